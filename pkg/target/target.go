// Package target picks the backend of a link.
package target

import (
	"fmt"

	"github.com/ksco/mcld/pkg/linker"
	"github.com/ksco/mcld/pkg/target/aarch64"
	"github.com/ksco/mcld/pkg/target/arm"
	"github.com/ksco/mcld/pkg/target/mips"
	"github.com/ksco/mcld/pkg/target/riscv"
	"github.com/ksco/mcld/pkg/target/x86"
)

// New installs the backend of ctx.Args.Emulation as the relocator of ctx.
func New(ctx *linker.Context) (*linker.Backend, error) {
	var arch linker.Arch
	switch ctx.Args.Emulation {
	case linker.MachineTypeARM:
		arch = arm.New()
	case linker.MachineTypeAArch64:
		arch = aarch64.New()
	case linker.MachineTypeMIPS:
		arch = mips.New()
	case linker.MachineTypeI386:
		arch = x86.New32(ctx.Args.IsPIC())
	case linker.MachineTypeX86_64:
		arch = x86.New64()
	case linker.MachineTypeRISCV64:
		arch = riscv.New()
	default:
		return nil, fmt.Errorf("%w: %s", linker.ErrUnknownEmulation, ctx.Args.Emulation)
	}
	return linker.NewBackend(ctx, arch), nil
}
