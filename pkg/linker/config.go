package linker

type OutputKind uint8

const (
	OutputExec OutputKind = iota
	OutputPIE
	OutputShared
)

func (k OutputKind) String() string {
	switch k {
	case OutputPIE:
		return "pie"
	case OutputShared:
		return "shared"
	}
	return "exec"
}

/*
 * @Output: path of the linked image
 * @Emulation: target machine, from -m or from the first recognised input
 * @OutputKind: executable, position-independent executable or shared object
 * @AllowShlibUndefined: undefined references are warnings instead of errors
 * @NoUndefined: undefined references are errors even when building a
 *               shared object
 * @Bsymbolic: global definitions of a shared object bind locally
 * @Relax: run the branch relaxation pass before applying relocations
 * @MaxMemoryAreas: number of file contents kept cached by the input factory
 */
type Config struct {
	Output              string
	Emulation           MachineType
	OutputKind          OutputKind
	LibraryPaths        []string
	AllowShlibUndefined bool
	NoUndefined         bool
	Bsymbolic           bool
	Relax               bool
	MaxMemoryAreas      int
	Verbose             bool
}

func DefaultConfig() Config {
	return Config{
		Output:         "a.out",
		Emulation:      MachineTypeNone,
		OutputKind:     OutputExec,
		Relax:          true,
		MaxMemoryAreas: 64,
	}
}

// IsPIC reports whether every absolute address in the output must be
// fixed up by the runtime loader.
func (c *Config) IsPIC() bool {
	return c.OutputKind == OutputPIE || c.OutputKind == OutputShared
}

// IsDynamic reports whether the output is loaded by a runtime loader.
func (c *Config) IsDynamic() bool {
	return c.OutputKind != OutputExec
}
