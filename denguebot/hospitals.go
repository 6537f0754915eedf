package denguebot

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/amp-labs/denguebot/geo"
	"github.com/amp-labs/denguebot/guards"
	"github.com/amp-labs/denguebot/logger"
	"github.com/amp-labs/denguebot/messaging"
	"github.com/amp-labs/denguebot/statemachine"
)

// maxActionLabel is the LINE limit on template action labels, in characters.
const maxActionLabel = 20

func (b *Bot) nearbyByLocation(ctx context.Context, fc *statemachine.Context) error {
	loc, err := location(fc)
	if err != nil {
		return err
	}

	return b.replyNearby(ctx, fc, geo.Point{Lat: loc.Latitude, Lng: loc.Longitude})
}

// nearbyByAddress answers with the facilities around the point is_valid_address
// resolved for the message text.
func (b *Bot) nearbyByAddress(ctx context.Context, fc *statemachine.Context) error {
	raw, _ := fc.Get(guards.DataGeocodedPoint)

	point, ok := raw.(geo.Point)
	if !ok {
		logger.Get(ctx).WarnContext(ctx, "No geocoded point for address", "user_id", fc.UserID)

		return b.replyTemplateAndFinish(ctx, fc, "invalid_address")
	}

	return b.replyNearby(ctx, fc, point)
}

func (b *Bot) replyNearby(ctx context.Context, fc *statemachine.Context, point geo.Point) error {
	facilities, err := b.facilities.Nearby(ctx, point, NearbyRadiusKM, NearbyLimit)
	if err != nil {
		return fmt.Errorf("nearby facilities: %w", err)
	}

	// The point is the user's whereabouts, so it is logged without the user ID.
	logCtx := logger.WithSensitive(ctx)
	logger.Get(logCtx).DebugContext(logCtx, "Nearby facilities found",
		"lat", point.Lat,
		"lng", point.Lng,
		"count", len(facilities))

	if len(facilities) == 0 {
		return b.replyTemplateAndFinish(ctx, fc, "no_nearby_hospital")
	}

	msg, err := b.hospitalCarousel(ctx, fc, facilities)
	if err != nil {
		return err
	}

	return b.replyAndFinish(ctx, fc, msg)
}

// hospitalCarousel lists facilities, each with its address as a postback
// for the map and its phone number, followed by a column linking the full
// map.
func (b *Bot) hospitalCarousel(
	ctx context.Context,
	fc *statemachine.Context,
	facilities []geo.Facility,
) (messaging.Template, error) {
	allNearby, err := b.render(ctx, fc, "all_nearby", nil)
	if err != nil {
		return messaging.Template{}, err
	}

	allLabel, err := b.render(ctx, fc, "all_nearby_label", nil)
	if err != nil {
		return messaging.Template{}, err
	}

	alt, err := b.render(ctx, fc, "nearby_alt_text", map[string]any{"Hospitals": facilities})
	if err != nil {
		return messaging.Template{}, err
	}

	columns := make([]messaging.Column, 0, len(facilities)+1)

	for _, f := range facilities {
		columns = append(columns, messaging.Column{
			Text: f.Name,
			Actions: []messaging.Action{
				messaging.PostbackAction{
					Label: label(f.Address),
					Text:  " ",
					Data:  url.Values{guards.PostbackHospitalAddress: {f.Address}}.Encode(),
				},
				messaging.MessageAction{Label: label(f.Phone), Text: " "},
			},
		})
	}

	columns = append(columns, messaging.Column{
		Text: allNearby,
		Actions: []messaging.Action{
			messaging.MessageAction{Label: " ", Text: " "},
			messaging.URIAction{Label: label(allLabel), URI: b.links.HospitalMap},
		},
	})

	return messaging.Template{
		AltText:  alt,
		Template: messaging.Carousel{Columns: columns},
	}, nil
}

// hospitalMap answers a facility postback with its location.
func (b *Bot) hospitalMap(ctx context.Context, fc *statemachine.Context) error {
	address := fc.Event.Postback().Get(guards.PostbackHospitalAddress)

	facility, err := b.facilities.ByAddress(ctx, address)
	if errors.Is(err, geo.ErrFacilityNotFound) {
		logger.Get(ctx).WarnContext(ctx, "Facility not found", "address", address)

		return b.replyTemplateAndFinish(ctx, fc, "no_nearby_hospital")
	}

	if err != nil {
		return err
	}

	title, err := b.render(ctx, fc, "map_title", map[string]string{"Name": facility.Name})
	if err != nil {
		return err
	}

	return b.replyAndFinish(ctx, fc, messaging.Location{
		Title:     title,
		Address:   facility.Address,
		Latitude:  facility.Lat,
		Longitude: facility.Lng,
	})
}

// label truncates s to an action label. LINE rejects empty labels.
func label(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return " "
	}

	if len(runes) > maxActionLabel {
		runes = runes[:maxActionLabel]
	}

	return string(runes)
}
