package models

// Mapper receives segment mappings for one process address space.
type Mapper interface {
	Map(addr, size uint64, prot int, desc string) error
	Write(addr uint64, p []byte) error
}

// LibraryBridge resolves the libraries an image asks for. The loader only
// surfaces names; resolution is up to the bridge.
type LibraryBridge interface {
	Require(img *LoadedImage, libs []string) error
}

// Compiler is told which compilation path a bytecode image should take.
type Compiler interface {
	Compile(img *LoadedImage, mode CompileMode) error
}

// ProfileSource reports whether hot-method data exists for an image digest.
type ProfileSource interface {
	Hot(digest string) bool
}
