package linker

// Chunker is one contiguous region of the output image. Go has no base
// classes, so every kind of chunk embeds Chunk and overrides what it needs.
type Chunker interface {
	GetName() string
	GetShdr() *Shdr
	// UpdateShdr recomputes the size from the current state of the link.
	UpdateShdr(ctx *Context)
	// CopyBuf writes the contents into buf, which starts at the chunk.
	CopyBuf(ctx *Context, buf []byte)
}

type Chunk struct {
	Name string
	Shdr Shdr
}

func NewChunk() Chunk {
	return Chunk{Shdr: Shdr{AddrAlign: 1}}
}

func (c *Chunk) GetName() string {
	return c.Name
}

func (c *Chunk) GetShdr() *Shdr {
	return &c.Shdr
}

func (c *Chunk) UpdateShdr(ctx *Context) {}

func (c *Chunk) CopyBuf(ctx *Context, buf []byte) {}
