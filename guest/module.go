package guest

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/ownership/ref"
	"go.uber.org/zap"
)

// moduleCloser closes a wazero module when its last owner is released.
type moduleCloser struct {
	ctx context.Context
}

func (c moduleCloser) Delete(p *api.Module) {
	if p == nil || *p == nil {
		return
	}
	mod := *p
	*p = nil
	if err := mod.Close(c.ctx); err != nil {
		Logger().Warn("module close failed",
			zap.String("module", mod.Name()),
			zap.Error(err))
		return
	}
	if ce := Logger().Check(zap.DebugLevel, "module closed"); ce != nil {
		ce.Write(zap.String("module", mod.Name()))
	}
}

// Share returns an owning handle for mod. The module is closed with a
// context derived from ctx, minus its cancellation, when the last owner
// is released. A nil mod yields a handle with no payload.
func Share(ctx context.Context, mod api.Module) ref.Strong[api.Module] {
	p := new(api.Module)
	*p = mod
	return ref.NewWith(p, moduleCloser{ctx: context.WithoutCancel(ctx)})
}
