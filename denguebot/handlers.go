package denguebot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amp-labs/denguebot/event"
	"github.com/amp-labs/denguebot/guards"
	"github.com/amp-labs/denguebot/logger"
	"github.com/amp-labs/denguebot/messaging"
	"github.com/amp-labs/denguebot/records"
	"github.com/amp-labs/denguebot/statemachine"
)

// Postback data of the prevention buttons.
const (
	PreventionSelf = "自身"
	PreventionEnv  = "環境"
)

// Zapper imagemap shortcuts.
const (
	ZapperAreaInfo    = "我想了解整個商圈的蚊蟲情況"
	ZapperAreaProblem = "我的補蚊燈需要專人協助"
	ZapperAreaBind    = "我要綁定補蚊燈！"
)

var errNoLocation = errors.New("event carries no location")

// registerUser stores the follower's profile and moves on to the language
// question.
func (b *Bot) registerUser(ctx context.Context, fc *statemachine.Context) error {
	profile, err := b.client.Profile(ctx, fc.UserID)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}

	if err := b.store.UpsertProfile(ctx, records.User{
		ID:            fc.UserID,
		Name:          profile.DisplayName,
		PictureURL:    profile.PictureURL,
		StatusMessage: profile.StatusMessage,
	}); err != nil {
		return err
	}

	logger.Get(ctx).InfoContext(ctx, "User joined", "user_id", fc.UserID, "name", profile.DisplayName)

	fc.Cascade(TriggerNext)

	return nil
}

func (b *Bot) setLanguage(ctx context.Context, fc *statemachine.Context) error {
	lang, ok := b.catalog.ResolveLanguage(fc.Event.Text)
	if !ok {
		lang = strings.TrimSpace(fc.Event.Text)
	}

	if err := b.store.SetLanguage(ctx, fc.UserID, lang); err != nil {
		return err
	}

	fc.Set(DataLanguage, b.catalog.Match(lang))

	if err := b.replyTemplate(ctx, fc, "set_language_success", map[string]string{"Language": lang}); err != nil {
		return err
	}

	fc.Cascade(TriggerFinishAns)

	return nil
}

// handleUnrecognized records the message and answers it with a prepared
// response when one exists. Events without a reply token are only routed
// back to the initial state.
func (b *Bot) handleUnrecognized(ctx context.Context, fc *statemachine.Context) error {
	if !fc.Event.HasReplyToken() {
		fc.Cascade(b.returnTrigger)

		return nil
	}

	if raw, ok := fc.Get(DataMessageLogID); ok {
		if id, ok := raw.(int64); ok {
			if err := b.store.MarkUnrecognized(ctx, id); err != nil {
				return err
			}
		}
	}

	response, found, err := b.store.CannedResponse(ctx, fc.Event.Content())
	if err != nil {
		return err
	}

	if found {
		err = b.reply(ctx, fc, messaging.Text{Text: response})
	} else {
		err = b.replyTemplate(ctx, fc, "unknown_msg", nil)
	}

	if err != nil {
		return err
	}

	fc.Cascade(b.returnTrigger)

	return nil
}

func (b *Bot) dengueFeverIntro(ctx context.Context, fc *statemachine.Context) error {
	links := map[string]string{"KnowledgeURL": b.links.Knowledge, "QAURL": b.links.QA}

	alt, err := b.render(ctx, fc, "intro_alt_text", links)
	if err != nil {
		return err
	}

	head, err := b.render(ctx, fc, "intro_head", nil)
	if err != nil {
		return err
	}

	intro, err := b.render(ctx, fc, "intro_label", nil)
	if err != nil {
		return err
	}

	qa, err := b.render(ctx, fc, "qa_label", nil)
	if err != nil {
		return err
	}

	msg := messaging.Template{
		AltText: alt,
		Template: messaging.Buttons{
			Text: head,
			Actions: []messaging.Action{
				messaging.URIAction{Label: intro, URI: b.links.Knowledge},
				messaging.URIAction{Label: qa, URI: b.links.QA},
			},
		},
	}

	return b.replyAndFinish(ctx, fc, msg)
}

func (b *Bot) symptomWarning(ctx context.Context, fc *statemachine.Context) error {
	warning, err := b.text(ctx, fc, "symptom_warning", nil)
	if err != nil {
		return err
	}

	img := messaging.Image{
		OriginalContentURL: b.links.SymptomImage.Original,
		PreviewImageURL:    b.links.SymptomImage.Preview,
	}

	return b.replyAndFinish(ctx, fc, img, warning)
}

// askPreventType offers the two kinds of prevention advice and waits for the
// choice.
func (b *Bot) askPreventType(ctx context.Context, fc *statemachine.Context) error {
	question, err := b.render(ctx, fc, "ask_prevent_type", nil)
	if err != nil {
		return err
	}

	self, err := b.render(ctx, fc, "self_label", nil)
	if err != nil {
		return err
	}

	env, err := b.render(ctx, fc, "env_label", nil)
	if err != nil {
		return err
	}

	return b.reply(ctx, fc, messaging.Template{
		AltText: question,
		Template: messaging.Buttons{
			Text: question,
			Actions: []messaging.Action{
				messaging.PostbackAction{Label: self, Data: PreventionSelf},
				messaging.PostbackAction{Label: env, Data: PreventionEnv},
			},
		},
	})
}

func (b *Bot) askAddress(ctx context.Context, fc *statemachine.Context) error {
	return b.askLocation(ctx, fc, "ask_address")
}

func (b *Bot) askGovLocation(ctx context.Context, fc *statemachine.Context) error {
	return b.askLocation(ctx, fc, "ask_gov_location")
}

func (b *Bot) askRegisterLocation(ctx context.Context, fc *statemachine.Context) error {
	if err := b.askLocation(ctx, fc, "register_location"); err != nil {
		return err
	}

	fc.Cascade(TriggerNext)

	return nil
}

// askLocation sends a prompt followed by the how-to-share-a-location images.
func (b *Bot) askLocation(ctx context.Context, fc *statemachine.Context, template string) error {
	prompt, err := b.text(ctx, fc, template, nil)
	if err != nil {
		return err
	}

	return b.reply(ctx, fc, append([]messaging.Message{prompt}, b.locationSteps()...)...)
}

func (b *Bot) epidemicLink(ctx context.Context, fc *statemachine.Context) error {
	text, err := b.render(ctx, fc, "epidemic", map[string]string{"Link": b.links.Epidemic})
	if err != nil {
		return err
	}

	return b.replyAndFinish(ctx, fc, messaging.Template{
		AltText: text,
		Template: messaging.Buttons{
			Text:    text,
			Actions: []messaging.Action{messaging.URIAction{Label: "Link", URI: b.links.Epidemic}},
		},
	})
}

// saveSuggestion stores the text a user leaves while the bot waits for
// feedback. Government reports are routed on instead of stored.
func (b *Bot) saveSuggestion(ctx context.Context, fc *statemachine.Context) error {
	if fc.Event.Kind != event.KindText {
		return nil
	}

	if _, isReport := guards.ParseGovReport(fc.Event.Text); isReport {
		return nil
	}

	if err := b.store.SaveSuggestion(ctx, records.Suggestion{
		UserID:  fc.UserID,
		Content: fc.Event.Text,
	}); err != nil {
		return err
	}

	return b.replyTemplate(ctx, fc, "thank_advice", nil)
}

func (b *Bot) saveGovReport(ctx context.Context, fc *statemachine.Context) error {
	report, ok := guards.ParseGovReport(fc.Event.Text)
	if !ok {
		return fmt.Errorf("%w: %q is not a government report", statemachine.ErrContractViolation, fc.Event.Text)
	}

	id, err := b.store.SaveGovReport(ctx, records.GovReport{
		UserID:     fc.UserID,
		Action:     report.Action,
		Note:       report.Note,
		ReportTime: fc.Event.Timestamp,
	})
	if err != nil {
		return err
	}

	logger.Get(ctx).InfoContext(ctx, "Government report saved",
		"user_id", fc.UserID,
		"report_id", id,
		"action", report.Action)

	fc.Cascade(TriggerNext)

	return nil
}

func (b *Bot) locateGovReport(ctx context.Context, fc *statemachine.Context) error {
	loc, err := location(fc)
	if err != nil {
		return err
	}

	err = b.store.LocateLatestGovReport(ctx, fc.UserID, loc.Latitude, loc.Longitude)

	switch {
	case errors.Is(err, records.ErrReportNotFound):
		logger.Get(ctx).ErrorContext(ctx, "Government report does not exist", "user_id", fc.UserID)
	case err != nil:
		return err
	default:
		if err := b.replyTemplate(ctx, fc, "thank_gov_report", nil); err != nil {
			return err
		}
	}

	fc.Cascade(TriggerFinishAns)

	return nil
}

func (b *Bot) registerLocation(ctx context.Context, fc *statemachine.Context) error {
	loc, err := location(fc)
	if err != nil {
		return err
	}

	if err := b.store.SetLocation(ctx, fc.UserID, loc.Latitude, loc.Longitude); err != nil {
		return err
	}

	return b.replyTemplateAndFinish(ctx, fc, "register_location_success")
}

func (b *Bot) zapperFunction(ctx context.Context, fc *statemachine.Context) error {
	return b.zapperReply(ctx, fc, "zapper_function")
}

func (b *Bot) bindZapper(ctx context.Context, fc *statemachine.Context) error {
	if err := b.store.SetZapperID(ctx, fc.UserID, strings.TrimSpace(fc.Event.Text)); err != nil {
		return err
	}

	return b.zapperReply(ctx, fc, "bind_zapper_success")
}

func (b *Bot) zapperReply(ctx context.Context, fc *statemachine.Context, template string) error {
	msg, err := b.text(ctx, fc, template, nil)
	if err != nil {
		return err
	}

	imagemap, err := b.zapperImagemap(ctx, fc.UserID)
	if err != nil {
		return err
	}

	return b.replyAndFinish(ctx, fc, msg, imagemap)
}

// zapperImagemap builds the zapper menu. The first area links to the user's
// bound zapper when there is one.
func (b *Bot) zapperImagemap(ctx context.Context, userID string) (messaging.Imagemap, error) {
	link := b.links.ZapperPage

	user, err := b.store.User(ctx, userID)

	switch {
	case err == nil:
		link += user.ZapperID
	case !errors.Is(err, records.ErrUserNotFound):
		return messaging.Imagemap{}, err
	}

	const half = 520

	return messaging.Imagemap{
		BaseURL:  b.links.ZapperImagemap,
		AltText:  "user zapper information",
		BaseSize: messaging.Size{Width: 2 * half, Height: 2 * half},
		Actions: []messaging.ImagemapAction{
			{LinkURI: link, Area: messaging.Area{X: 0, Y: 0, Width: half, Height: half}},
			{Text: ZapperAreaInfo, Area: messaging.Area{X: half, Y: 0, Width: half, Height: half}},
			{Text: ZapperAreaProblem, Area: messaging.Area{X: 0, Y: half, Width: half, Height: half}},
			{Text: ZapperAreaBind, Area: messaging.Area{X: half, Y: half, Width: half, Height: half}},
		},
	}, nil
}

func (b *Bot) saveZapperProblem(ctx context.Context, fc *statemachine.Context) error {
	if err := b.store.SaveZapperReport(ctx, records.ZapperReport{
		UserID:     fc.UserID,
		Content:    fc.Event.Text,
		ReportTime: fc.Event.Timestamp,
	}); err != nil {
		return err
	}

	return b.replyTemplateAndFinish(ctx, fc, "thank_zapper_report")
}

func (b *Bot) replyAndFinish(ctx context.Context, fc *statemachine.Context, messages ...messaging.Message) error {
	if err := b.reply(ctx, fc, messages...); err != nil {
		return err
	}

	fc.Cascade(TriggerFinishAns)

	return nil
}

func (b *Bot) replyTemplateAndFinish(ctx context.Context, fc *statemachine.Context, template string) error {
	msg, err := b.text(ctx, fc, template, nil)
	if err != nil {
		return err
	}

	return b.replyAndFinish(ctx, fc, msg)
}

func location(fc *statemachine.Context) (*event.Location, error) {
	if fc.Event.Kind != event.KindLocation || fc.Event.Location == nil {
		return nil, fmt.Errorf("%w: %w", statemachine.ErrContractViolation, errNoLocation)
	}

	return fc.Event.Location, nil
}
