// Package denguebot implements the dengue-fever conversation: the entry and
// exit actions of every state in the bundled configuration and the
// configuration-declared reply callbacks.
package denguebot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amp-labs/denguebot/geo"
	"github.com/amp-labs/denguebot/logger"
	"github.com/amp-labs/denguebot/messaging"
	"github.com/amp-labs/denguebot/records"
	"github.com/amp-labs/denguebot/replies"
	"github.com/amp-labs/denguebot/statemachine"
)

// States with actions bound in code.
const (
	StateUser                    = "user"
	StateUserJoin                = "user_join"
	StateReceiveUserLanguage     = "receive_user_language"
	StateUnrecognizedMsg         = "unrecognized_msg"
	StateAskDengueFever          = "ask_dengue_fever"
	StateAskSymptom              = "ask_symptom"
	StateAskPrevention           = "ask_prevention"
	StateAskHospital             = "ask_hospital"
	StateReceiveUserLocation     = "receive_user_location"
	StateReceiveUserAddress      = "receive_user_address"
	StateAskHospitalMap          = "ask_hospital_map"
	StateAskEpidemic             = "ask_epidemic"
	StateWaitUserSuggestion      = "wait_user_suggestion"
	StateGovFacultyReport        = "gov_faculty_report"
	StateWaitGovLocation         = "wait_gov_location"
	StateReceiveGovLocation      = "receive_gov_location"
	StateUserRegisterLocation    = "user_register_location"
	StateReceiveRegisterLocation = "receive_register_location"
	StateZapperFunction          = "zapper_function"
	StateReceiveZapperID         = "receive_zapper_id"
	StateReceiveZapperProblem    = "receive_zapper_problem"
)

// Triggers fired by actions.
const (
	TriggerAdvance   = "advance"
	TriggerFinishAns = "finish_ans"
	TriggerNext      = "next"
)

// Context data keys shared with the ingress pipeline.
const (
	// DataMessageLogID holds the int64 id of the logged inbound message.
	DataMessageLogID = "message_log_id"
	// DataLanguage caches the user's catalog language for one request.
	DataLanguage = "language"
)

// Callback types registered by the bot.
const (
	CallbackText       = "text"
	CallbackTextFinish = "text-finish"
)

// Links are the external pages the bot points users to.
type Links struct {
	Knowledge      string
	QA             string
	Epidemic       string
	HospitalMap    string
	SymptomImage   Image
	LocationSteps  []Image
	ZapperImagemap string
	ZapperPage     string
}

// Image is an image message source.
type Image struct {
	Original string
	Preview  string
}

// DefaultLinks returns the production links.
func DefaultLinks() Links {
	return Links{
		Knowledge:   "http://www.denguefever.tw/knowledge",
		QA:          "http://www.denguefever.tw/qa",
		Epidemic:    "http://www.denguefever.tw/realTime",
		HospitalMap: "https://www.taiwanstat.com/realtime/dengue-vis-with-hospital/",
		SymptomImage: Image{
			Original: "https://i.imgur.com/3zmmG3v.jpg",
			Preview:  "https://i.imgur.com/3zmmG3vl.jpg",
		},
		LocationSteps: []Image{
			{Original: "https://i.imgur.com/H9ibRGQ.png", Preview: "https://i.imgur.com/H9ibRGQl.png"},
			{Original: "https://i.imgur.com/rUzqKb0.png", Preview: "https://i.imgur.com/rUzqKb0l.png"},
		},
		ZapperImagemap: "https://i.imgur.com/9piGQjS.jpg",
		ZapperPage:     "https://example.com/",
	}
}

// Nearby search parameters.
const (
	NearbyRadiusKM = 5
	NearbyLimit    = 3
)

// Dependencies are the collaborators the actions talk to.
type Dependencies struct {
	Client     messaging.Client
	Store      records.Store
	Facilities geo.Searcher
	Catalog    *replies.Catalog
}

// Bot holds the collaborators shared by every action.
type Bot struct {
	client     messaging.Client
	store      records.Store
	facilities geo.Searcher
	catalog    *replies.Catalog
	links      Links
	now        func() time.Time

	returnTrigger string
}

// Option configures a Bot.
type Option func(*Bot)

// WithLinks replaces the external links.
func WithLinks(links Links) Option {
	return func(b *Bot) { b.links = links }
}

// WithReturnTrigger sets the trigger that leads from the unrecognized
// message sink back to the initial state.
func WithReturnTrigger(trigger string) Option {
	return func(b *Bot) { b.returnTrigger = trigger }
}

// WithClock sets the clock used for reply log timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

var ErrMissingDependency = errors.New("denguebot: missing dependency")

// New creates a bot. Every dependency is required.
func New(deps Dependencies, opts ...Option) (*Bot, error) {
	switch {
	case deps.Client == nil:
		return nil, fmt.Errorf("%w: messaging client", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: record store", ErrMissingDependency)
	case deps.Facilities == nil:
		return nil, fmt.Errorf("%w: facility search", ErrMissingDependency)
	case deps.Catalog == nil:
		return nil, fmt.Errorf("%w: reply catalog", ErrMissingDependency)
	}

	bot := &Bot{
		client:     deps.Client,
		store:      deps.Store,
		facilities: deps.Facilities,
		catalog:    deps.Catalog,
		links:      DefaultLinks(),
		now:        time.Now,

		returnTrigger: statemachine.DefaultReturnTrigger,
	}

	for _, opt := range opts {
		opt(bot)
	}

	return bot, nil
}

// Catalog returns the reply catalog.
func (b *Bot) Catalog() *replies.Catalog {
	return b.catalog
}

// Dispatcher binds the bot's actions to their states.
func (b *Bot) Dispatcher() *statemachine.Dispatcher {
	d := statemachine.NewDispatcher()

	d.OnEnter(StateUserJoin, statemachine.NewAction("register_user", b.registerUser))
	d.OnEnter(StateReceiveUserLanguage, statemachine.NewAction("set_language", b.setLanguage))
	d.OnEnter(StateUnrecognizedMsg, statemachine.NewAction("handle_unrecognized", b.handleUnrecognized))
	d.OnEnter(StateAskDengueFever, statemachine.NewAction("dengue_fever_intro", b.dengueFeverIntro))
	d.OnEnter(StateAskSymptom, statemachine.NewAction("symptom_warning", b.symptomWarning))
	d.OnEnter(StateAskPrevention, statemachine.NewAction("ask_prevent_type", b.askPreventType))
	d.OnEnter(StateAskHospital, statemachine.NewAction("ask_address", b.askAddress))
	d.OnEnter(StateReceiveUserLocation, statemachine.NewAction("nearby_by_location", b.nearbyByLocation))
	d.OnEnter(StateReceiveUserAddress, statemachine.NewAction("nearby_by_address", b.nearbyByAddress))
	d.OnEnter(StateAskHospitalMap, statemachine.NewAction("hospital_map", b.hospitalMap))
	d.OnEnter(StateAskEpidemic, statemachine.NewAction("epidemic_link", b.epidemicLink))
	d.OnExit(StateWaitUserSuggestion, statemachine.NewAction("save_suggestion", b.saveSuggestion))
	d.OnEnter(StateGovFacultyReport, statemachine.NewAction("save_gov_report", b.saveGovReport))
	d.OnEnter(StateWaitGovLocation, statemachine.NewAction("ask_gov_location", b.askGovLocation))
	d.OnEnter(StateReceiveGovLocation, statemachine.NewAction("locate_gov_report", b.locateGovReport))
	d.OnEnter(StateUserRegisterLocation, statemachine.NewAction("ask_register_location", b.askRegisterLocation))
	d.OnEnter(StateReceiveRegisterLocation, statemachine.NewAction("register_location", b.registerLocation))
	d.OnEnter(StateZapperFunction, statemachine.NewAction("zapper_function", b.zapperFunction))
	d.OnEnter(StateReceiveZapperID, statemachine.NewAction("bind_zapper", b.bindZapper))
	d.OnEnter(StateReceiveZapperProblem, statemachine.NewAction("save_zapper_problem", b.saveZapperProblem))

	return d
}

// Callbacks returns a factory that understands the bot's callback types on
// top of the built-in ones.
func (b *Bot) Callbacks() *statemachine.CallbackFactory {
	factory := statemachine.NewCallbackFactory()

	factory.Register(CallbackText, func(cfg statemachine.CallbackConfig) (statemachine.Action, error) {
		return b.textCallback(cfg, false)
	})
	factory.Register(CallbackTextFinish, func(cfg statemachine.CallbackConfig) (statemachine.Action, error) {
		return b.textCallback(cfg, true)
	})

	return factory
}

// textCallback replies with a catalog template and, when finish is set,
// returns the user to the initial state.
func (b *Bot) textCallback(cfg statemachine.CallbackConfig, finish bool) (statemachine.Action, error) {
	if cfg.Template == "" {
		return nil, statemachine.ErrCallbackTemplateRequired
	}

	if !b.catalog.Has(cfg.Template) {
		return nil, fmt.Errorf("%w: %w: %s", statemachine.ErrInvalidConfig, replies.ErrUnknownTemplate, cfg.Template)
	}

	name := cfg.State + "_" + cfg.Type + "_" + cfg.Template

	reply := statemachine.NewAction("reply_"+cfg.Template,
		func(ctx context.Context, fc *statemachine.Context) error {
			return b.replyTemplate(ctx, fc, cfg.Template, nil)
		})

	if !finish {
		return reply, nil
	}

	return statemachine.NewSequenceAction(name, reply, statemachine.NewCascadeAction(TriggerFinishAns, TriggerFinishAns)), nil
}

// language returns the user's catalog language, looked up once per request.
func (b *Bot) language(ctx context.Context, fc *statemachine.Context) string {
	if lang, ok := fc.GetString(DataLanguage); ok {
		return lang
	}

	lang := b.catalog.Default()

	user, err := b.store.User(ctx, fc.UserID)

	switch {
	case err == nil:
		lang = b.catalog.Match(user.Language)
	case !errors.Is(err, records.ErrUserNotFound):
		logger.Get(ctx).WarnContext(ctx, "Failed to look up user language",
			"user_id", fc.UserID,
			"error", err)
	}

	fc.Set(DataLanguage, lang)

	return lang
}

func (b *Bot) render(ctx context.Context, fc *statemachine.Context, name string, data any) (string, error) {
	return b.catalog.Render(b.language(ctx, fc), name, data)
}

func (b *Bot) text(ctx context.Context, fc *statemachine.Context, name string, data any) (messaging.Text, error) {
	text, err := b.render(ctx, fc, name, data)
	if err != nil {
		return messaging.Text{}, err
	}

	return messaging.Text{Text: text}, nil
}

func (b *Bot) replyTemplate(ctx context.Context, fc *statemachine.Context, name string, data any) error {
	msg, err := b.text(ctx, fc, name, data)
	if err != nil {
		return err
	}

	return b.reply(ctx, fc, msg)
}

// reply sends messages with the event's reply token and records each one in
// the reply log.
func (b *Bot) reply(ctx context.Context, fc *statemachine.Context, messages ...messaging.Message) error {
	if !fc.Event.HasReplyToken() {
		logger.Get(ctx).DebugContext(ctx, "Event has no reply token, skipping reply",
			"user_id", fc.UserID,
			"messages", len(messages))

		return nil
	}

	if err := b.client.Reply(ctx, fc.Event.ReplyToken, messages...); err != nil {
		return fmt.Errorf("reply to %s: %w", fc.UserID, err)
	}

	now := b.now()

	var errs []error

	for _, msg := range messages {
		errs = append(errs, b.store.LogReply(ctx, records.ReplyLog{
			UserID:      fc.UserID,
			SpeakTime:   now,
			MessageType: msg.Type(),
			Content:     messaging.Content(msg),
		}))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("log reply to %s: %w", fc.UserID, err)
	}

	return nil
}

func (b *Bot) locationSteps() []messaging.Message {
	msgs := make([]messaging.Message, 0, len(b.links.LocationSteps))

	for _, img := range b.links.LocationSteps {
		msgs = append(msgs, messaging.Image{OriginalContentURL: img.Original, PreviewImageURL: img.Preview})
	}

	return msgs
}
