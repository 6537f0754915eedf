// Package guards provides the predicates the conversation configuration
// refers to by name: event-kind discriminators, keyword and menu rules
// loaded from a conditions document, and the few guards that need code.
package guards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amp-labs/denguebot/event"
	"github.com/amp-labs/denguebot/geo"
	"github.com/amp-labs/denguebot/logger"
	"github.com/amp-labs/denguebot/statemachine"
)

// Guard names implemented in code.
const (
	IsValidAddress    = "is_valid_address"
	IsHospitalAddress = "is_hospital_address"
	IsGovReport       = "is_gov_report"
	IsValidLanguage   = "is_valid_language"
	IsInvalidLanguage = "is_invalid_language"
	IsWrongLocation   = "is_wrong_location"
)

// PostbackHospitalAddress is the postback key carrying a facility address.
const PostbackHospitalAddress = "hospital_address"

// GovReportTag prefixes government faculty reports.
const GovReportTag = "#2016"

// DefaultGeocodeTimeout bounds is_valid_address.
const DefaultGeocodeTimeout = 3 * time.Second

// kindGuards maps every event-kind discriminator to its kind.
var kindGuards = map[string]event.Kind{
	"is_text_message":     event.KindText,
	"is_sticker_message":  event.KindSticker,
	"is_image_message":    event.KindImage,
	"is_video_message":    event.KindVideo,
	"is_audio_message":    event.KindAudio,
	"is_file_message":     event.KindFile,
	"is_location_message": event.KindLocation,
	"is_follow_event":     event.KindFollow,
	"is_unfollow_event":   event.KindUnfollow,
	"is_join_event":       event.KindJoin,
	"is_leave_event":      event.KindLeave,
	"is_postback_event":   event.KindPostback,
	"is_beacon_event":     event.KindBeacon,
}

// LanguageResolver maps user input to a supported language code.
type LanguageResolver interface {
	ResolveLanguage(input string) (string, bool)
}

// Options carries the collaborators of the guards that need them.
type Options struct {
	Geocoder       geo.Geocoder
	GeocodeTimeout time.Duration
	Languages      LanguageResolver
}

// NewRegistry builds a registry holding the built-in guards, every code
// guard, and the rules declared in conds. Rules that reference unknown guards
// fail the build.
func NewRegistry(conds *Conditions, opts Options) (*statemachine.GuardRegistry, error) {
	registry := statemachine.NewGuardRegistry()

	if err := RegisterKinds(registry); err != nil {
		return nil, err
	}

	if err := RegisterBuiltins(registry, opts); err != nil {
		return nil, err
	}

	if conds != nil {
		if err := RegisterConditions(registry, conds); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// RegisterKinds registers the event-kind discriminators.
func RegisterKinds(registry *statemachine.GuardRegistry) error {
	for name, kind := range kindGuards {
		if err := registry.Register(name, kindIs(kind)); err != nil {
			return err
		}
	}

	return nil
}

func kindIs(kind event.Kind) statemachine.Guard {
	return func(_ context.Context, fc *statemachine.Context) (bool, error) {
		return fc.Event.Kind == kind, nil
	}
}

// RegisterBuiltins registers the guards implemented in code.
func RegisterBuiltins(registry *statemachine.GuardRegistry, opts Options) error {
	timeout := opts.GeocodeTimeout
	if timeout <= 0 {
		timeout = DefaultGeocodeTimeout
	}

	var errs []error

	if opts.Geocoder != nil {
		errs = append(errs, registry.RegisterIO(IsValidAddress, timeout, validAddress(opts.Geocoder)))
	} else {
		errs = append(errs, registry.Register(IsValidAddress, never))
	}

	errs = append(errs,
		registry.Register(IsHospitalAddress, hospitalAddress),
		registry.Register(IsGovReport, govReport),
		registry.Register(IsWrongLocation, never),
	)

	if opts.Languages != nil {
		errs = append(errs,
			registry.Register(IsValidLanguage, validLanguage(opts.Languages)),
			registry.Register(IsInvalidLanguage, invalidLanguage(opts.Languages)),
		)
	}

	return errors.Join(errs...)
}

func never(context.Context, *statemachine.Context) (bool, error) {
	return false, nil
}

// validAddress passes when the message text geocodes to a location. Lookup
// failures other than "no result" surface as guard errors, which the engine
// logs and treats as false.
func validAddress(geocoder geo.Geocoder) statemachine.Guard {
	return func(ctx context.Context, fc *statemachine.Context) (bool, error) {
		if fc.Event.Kind != event.KindText || strings.TrimSpace(fc.Event.Text) == "" {
			return false, nil
		}

		point, err := geocoder.Geocode(ctx, fc.Event.Text)
		if errors.Is(err, geo.ErrNoResult) || errors.Is(err, geo.ErrEmptyAddress) {
			return false, nil
		}

		if err != nil {
			return false, fmt.Errorf("geocode %q: %w", fc.Event.Text, err)
		}

		fc.Set(DataGeocodedPoint, point)

		logger.Get(ctx).DebugContext(ctx, "Address resolved", "lat", point.Lat, "lng", point.Lng)

		return true, nil
	}
}

// DataGeocodedPoint is the context key where is_valid_address leaves the
// resolved geo.Point for the entry action of the next state. The engine
// drops it again when another guard of the same route fails.
const DataGeocodedPoint = "geocoded_point"

func hospitalAddress(_ context.Context, fc *statemachine.Context) (bool, error) {
	if fc.Event.Kind != event.KindPostback {
		return false, nil
	}

	return fc.Event.Postback().Get(PostbackHospitalAddress) != "", nil
}

func govReport(_ context.Context, fc *statemachine.Context) (bool, error) {
	if fc.Event.Kind != event.KindText {
		return false, nil
	}

	return strings.Contains(fc.Event.Text, GovReportTag), nil
}

// GovReport is a parsed government faculty report.
type GovReport struct {
	Action string
	Note   string
}

// ParseGovReport parses "#2016#action#note". The note may contain '#'.
func ParseGovReport(text string) (GovReport, bool) {
	idx := strings.Index(text, GovReportTag)
	if idx < 0 {
		return GovReport{}, false
	}

	rest := strings.TrimPrefix(text[idx+len(GovReportTag):], "#")
	action, note, _ := strings.Cut(rest, "#")

	return GovReport{
		Action: strings.TrimSpace(action),
		Note:   strings.TrimSpace(note),
	}, true
}

func validLanguage(languages LanguageResolver) statemachine.Guard {
	return func(_ context.Context, fc *statemachine.Context) (bool, error) {
		if fc.Event.Kind != event.KindText {
			return false, nil
		}

		_, ok := languages.ResolveLanguage(fc.Event.Text)

		return ok, nil
	}
}

func invalidLanguage(languages LanguageResolver) statemachine.Guard {
	valid := validLanguage(languages)

	return func(ctx context.Context, fc *statemachine.Context) (bool, error) {
		ok, err := valid(ctx, fc)

		return !ok, err
	}
}
