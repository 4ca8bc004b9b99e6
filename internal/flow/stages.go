package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/TarotPipe/internal/catalog"
	"github.com/BTreeMap/TarotPipe/internal/models"
)

// turn carries the mutable state of one Advance call.
type turn struct {
	m        *Machine
	ctx      context.Context
	state    *models.ConversationState
	text     string
	out      []string
	linkSent bool
}

type stageHandler func(t *turn)

// emit appends a novelty-selected message from category.
func (t *turn) emit(category string) {
	candidates := t.m.catalog.Candidates(category, t.state.UserDisplayName)
	if t.state.RecentResponses == nil {
		t.state.RecentResponses = make(map[string][]string)
	}
	if msg := t.m.opts.Selector.PickFor(t.state.RecentResponses, category, candidates); msg != "" {
		t.out = append(t.out, msg)
	}
}

func (t *turn) moveTo(s models.Stage) {
	if !models.IsValidTransition(t.state.Stage, s) {
		// Handlers only request funnel-legal moves; this guards future edits.
		slog.Error("turn.moveTo: rejected transition", "chat_id", t.state.ChatID, "from", t.state.Stage, "to", s)
		return
	}
	t.state.Stage = s
}

func (t *turn) cardOfDay() {
	if t.m.opts.Cards == nil {
		t.emit(catalog.Help)
		return
	}
	t.emit(catalog.CardOfDay)
	t.out = append(t.out, t.m.opts.Cards.DrawCard())
}

func (m *Machine) stageHandlers() map[models.Stage]stageHandler {
	return map[models.Stage]stageHandler{
		models.StageGreeting:           m.onGreeting,
		models.StageListening:          m.onListening,
		models.StageEmpathy:            m.onEmpathy,
		models.StageOfferingHelp:       m.onOfferingHelp,
		models.StageUnderstandingDoubt: m.onUnderstandingDoubt,
		models.StageDiscussingValue:    m.onDiscussingValue,
		models.StageAskingReadiness:    m.onAskingReadiness,
		models.StageSendingLink:        m.onSendingLink,
		models.StageAwaitingPayment:    m.onAwaitingPayment,
		models.StageWorking:            m.onWorking,
	}
}

// captureProblem records the first qualifying problem statement.
func (m *Machine) captureProblem(t *turn) {
	if t.state.ProblemText != "" {
		return
	}
	t.state.ProblemText = t.text
	t.state.ProblemCategory = m.opts.Classifier.ClassifyTopic(t.text)
	slog.Debug("Machine: problem captured", "chat_id", t.state.ChatID, "category", t.state.ProblemCategory)
}

// onGreeting ignores the text for the transition but keeps a problem
// statement sent as the very first message.
func (m *Machine) onGreeting(t *turn) {
	if m.opts.Classifier.LooksLikeProblemStatement(t.text) {
		m.captureProblem(t)
	}
	t.emit(catalog.Greeting)
	t.moveTo(models.StageListening)
}

func (m *Machine) onListening(t *turn) {
	c := m.opts.Classifier
	if !c.LongerThanThreshold(t.text) || c.IsCommand(t.text) {
		t.emit(catalog.TellMore)
		return
	}
	m.captureProblem(t)
	category := t.state.ProblemCategory
	if category == "" {
		category = models.CategoryGeneral
	}
	t.emit(catalog.Empathy)
	t.emit(catalog.TopicQuestion(category))
	t.moveTo(models.StageEmpathy)
}

func (m *Machine) onEmpathy(t *turn) {
	t.emit(catalog.Offer)
	t.emit(catalog.OfferFollowup)
	t.moveTo(models.StageOfferingHelp)
}

// onOfferingHelp treats a refusal as doubt even when it carries an agreement
// word, as in "нет, не хочу"; ContainsAgreementIntent rejects negated text.
func (m *Machine) onOfferingHelp(t *turn) {
	if m.opts.Classifier.ContainsAgreementIntent(t.text) {
		t.emit(catalog.Value)
		t.emit(catalog.ValuePrice)
		t.state.PaymentOffered = true
		t.moveTo(models.StageDiscussingValue)
		return
	}
	t.emit(catalog.Comfort)
	t.moveTo(models.StageUnderstandingDoubt)
}

func (m *Machine) onUnderstandingDoubt(t *turn) {
	if m.opts.Classifier.ContainsHesitation(t.text) {
		t.emit(catalog.Encouragement)
	} else {
		t.emit(catalog.DoubtPrompt)
	}
	t.moveTo(models.StageOfferingHelp)
}

// onDiscussingValue checks price questions before payment requests, so
// "сколько стоит оплата" is answered with the price.
func (m *Machine) onDiscussingValue(t *turn) {
	c := m.opts.Classifier
	switch {
	case c.ContainsPriceInquiryIntent(t.text):
		t.emit(catalog.Readiness)
		t.moveTo(models.StageAskingReadiness)
	case c.ContainsPaymentIntent(t.text) && !c.ContainsNegation(t.text):
		t.moveTo(models.StageSendingLink)
		m.onSendingLink(t)
	default:
		t.emit(catalog.ReadinessRepeat)
	}
}

// onAskingReadiness never sends the link on a negated reply.
func (m *Machine) onAskingReadiness(t *turn) {
	c := m.opts.Classifier
	if c.ContainsNegation(t.text) {
		t.emit(catalog.Patience)
		return
	}
	if c.ContainsAgreementIntent(t.text) || c.ContainsPaymentIntent(t.text) {
		t.moveTo(models.StageSendingLink)
		m.onSendingLink(t)
		return
	}
	t.emit(catalog.Patience)
}

// onSendingLink sends the payment URL at most once per conversation. When the
// link was already sent it only reminds.
func (m *Machine) onSendingLink(t *turn) {
	if t.state.PaymentLinkSent {
		t.moveTo(models.StageAwaitingPayment)
		t.emit(catalog.Reminder)
		return
	}
	url, err := m.opts.Payment.Link(t.ctx, t.state.ChatID)
	if err != nil || url == "" {
		// Stay in sending_link so the next message retries.
		slog.Warn("Machine.onSendingLink: payment link unavailable", "chat_id", t.state.ChatID, "error", err)
		t.emit(catalog.Patience)
		return
	}
	t.emit(catalog.LinkPreface)
	t.out = append(t.out, url)
	t.linkSent = true
	t.state.PaymentURL = url
	t.state.PaymentLinkSent = true
	t.state.WaitingForPayment = true
	t.moveTo(models.StageAwaitingPayment)
	slog.Info("Machine.onSendingLink: payment link queued", "chat_id", t.state.ChatID)
}

func (m *Machine) onAwaitingPayment(t *turn) {
	switch {
	case m.opts.Classifier.ContainsPaymentDoneIntent(t.text):
		m.markPaid(t)
	case !t.state.PaymentLinkSent:
		t.moveTo(models.StageSendingLink)
		m.onSendingLink(t)
	default:
		t.emit(catalog.Reminder)
	}
}

func (m *Machine) markPaid(t *turn) {
	t.emit(catalog.Gratitude)
	t.emit(catalog.WorkingIntro)
	t.state.WaitingForPayment = false
	t.moveTo(models.StageWorking)
	slog.Info("Machine: payment reported", "chat_id", t.state.ChatID)
}

func (m *Machine) onWorking(t *turn) {
	t.emit(catalog.WorkingStatus)
}
