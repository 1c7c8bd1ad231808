package media

import (
	"context"
	"fmt"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
)

// StaticPermissions is the process-level capability gate: which capture
// devices this deployment is allowed to open. The analogue of the mobile
// runtime permission prompt, resolved from config instead of a dialog.
type StaticPermissions struct {
	Audio bool
	Video bool
}

func NewStaticPermissions(audio, video bool) *StaticPermissions {
	return &StaticPermissions{Audio: audio, Video: video}
}

func (p *StaticPermissions) CheckMedia(ctx context.Context, kind domain.CallKind) error {
	if !p.Audio {
		return fmt.Errorf("%w: microphone capture not allowed", domain.ErrPermission)
	}
	if kind == domain.CallKindVideo && !p.Video {
		return fmt.Errorf("%w: camera capture not allowed", domain.ErrPermission)
	}
	return nil
}
