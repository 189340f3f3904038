package inspect

import (
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"github.com/winlinos/dwce/go/cmd"
	"github.com/winlinos/dwce/go/loader"
	"github.com/winlinos/dwce/go/mem"
	"github.com/winlinos/dwce/go/models"
)

func Main(args []string) {
	c := cmd.New("inspect")
	c.Usage = "<image> [image...]"
	format := c.Flags.StringP("format", "f", "", "force the image format")
	dump := c.Flags.Bool("dump", false, "dump the parsed image structure")
	mapped := c.Flags.Bool("map", false, "map native images into an empty address space and list the mappings")
	c.Parse(args, 1)

	hint, err := models.ParseFormat(*format)
	if err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
	l := loader.NewLoader(nil)
	l.Bridge = loader.NewPrefixBridge(c.Config)
	status := 0
	for _, path := range c.Args {
		var space *mem.Space
		var m models.Mapper
		if *mapped {
			space = mem.NewSpace(64)
			m = space
		}
		img, err := l.LoadFile(path, hint, m)
		if err != nil {
			cmd.PrintError(err)
			status = 1
			continue
		}
		if *dump {
			spew.Fdump(c.Out, img)
			continue
		}
		Print(c, path, img)
		if space != nil {
			c.Printf("mappings:\n")
			for _, pg := range space.Mappings() {
				c.Printf("  %s\n", pg.String())
			}
		}
	}
	os.Exit(status)
}

// Print writes a short human-readable summary of img.
func Print(c *cmd.Cmd, path string, img *models.LoadedImage) {
	c.Printf("%s\n", c.Colorize("default+b", path))
	c.Printf("  format:  %s (%s)\n", img.Format, img.Type)
	if img.Machine != "" {
		c.Printf("  machine: %s\n", img.Machine)
	}
	c.Printf("  entry:   %s\n", c.Colorize("cyan", img.Entry.String()))
	if img.Format != models.DEX {
		c.Printf("  base:    %#x\n", img.ImageBase)
	}
	if img.Interp != "" {
		c.Printf("  interp:  %s\n", img.Interp)
	}
	c.Printf("  digest:  %s\n", img.Digest)
	if img.Compile != models.CompileNone {
		c.Printf("  compile: %s\n", img.Compile)
	}
	if len(img.Segments) > 0 {
		c.Printf("  segments:\n")
		for _, seg := range img.Segments {
			c.Printf("    %s\n", seg.String())
		}
	}
	if len(img.Libraries) > 0 {
		c.Printf("  libraries: %s\n", strings.Join(img.Libraries, ", "))
	}
	if img.Dex != nil {
		c.Printf("  dex %s: %d strings, %d types, %d methods, %d classes\n",
			img.Dex.Version, img.Dex.Strings.Size, img.Dex.Types.Size, img.Dex.Methods.Size, img.Dex.ClassDefs.Size)
		if img.Dex.Container != "" {
			c.Printf("  %s: %d extra dex, abis: %s\n", img.Dex.Container, len(img.Dex.Secondary), strings.Join(img.Dex.ABIs, ", "))
		}
		for _, class := range img.Dex.Classes {
			c.Printf("    %s\n", class)
		}
	}
}

func init() { cmd.Register("inspect", "parse images and print what the loader sees", Main) }
