package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/swapbot/core/logger"
	"github.com/m3rciful/swapbot/core/sender"
	coretelegram "github.com/m3rciful/swapbot/core/telegram"
	"github.com/m3rciful/swapbot/core/telegram/callbacks"
	"github.com/m3rciful/swapbot/core/telegram/commands"
	"github.com/m3rciful/swapbot/core/telegram/format"
	tghelpers "github.com/m3rciful/swapbot/core/telegram/helpers"
	"github.com/m3rciful/swapbot/core/telegram/keyboard"
	"github.com/m3rciful/swapbot/core/telegram/state"
	"github.com/m3rciful/swapbot/exchange/fields"
	"github.com/m3rciful/swapbot/exchange/order"
	"github.com/m3rciful/swapbot/exchange/quote"
	"github.com/m3rciful/swapbot/exchange/session"
	"github.com/m3rciful/swapbot/profile"
)

const (
	stateAmount state.State = "exchange.amount"
	stateField  state.State = "exchange.field"

	tempPivot    = "pivot"
	tempQueue    = "field_queue"
	tempValues   = "field_values"
	tempProblems = "field_problems"

	historyLimit = 10
)

// Profiles persists users, their preferences and exchange history.
type Profiles interface {
	Touch(ctx context.Context, u profile.User) error
	Preferences(ctx context.Context, telegramID int64) (profile.Preferences, error)
	Identity(ctx context.Context, telegramID int64) (fields.Identity, error)
	RecordExchange(ctx context.Context, telegramID int64, directionID string, o order.Order) error
	UpdateExchangeStatus(ctx context.Context, hash, status string) error
	SaveDefaultDirection(ctx context.Context, telegramID int64, give, get string) error
	History(ctx context.Context, telegramID int64, limit int) ([]profile.Exchange, error)
}

// Notifier announces order events to the user.
type Notifier interface {
	OrderCreated(ctx context.Context, userID int64, o order.Order) error
	StatusChanged(ctx context.Context, userID int64, prev, next order.Status, o order.Order) error
}

// API is the subset of *tele.Bot used to draw screens.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Handler serves the exchange screens of the bot.
type Handler struct {
	sessions  *Sessions
	fsm       state.Manager
	profiles  Profiles
	webAppURL string

	api      API
	notifier Notifier
	disp     *sender.Dispatcher
}

// NewHandler builds a Handler. profiles may be nil when running without a database.
func NewHandler(sessions *Sessions, fsm state.Manager, profiles Profiles, webAppURL string) *Handler {
	if fsm == nil {
		fsm = state.NewMemoryManager()
	}
	return &Handler{sessions: sessions, fsm: fsm, profiles: profiles, webAppURL: strings.TrimSpace(webAppURL)}
}

// Bind attaches the Telegram side once the bot exists.
func (h *Handler) Bind(api API, notifier Notifier, disp *sender.Dispatcher) {
	h.api, h.notifier, h.disp = api, notifier, disp
}

// Register wires commands, callbacks and text states into reg.
func (h *Handler) Register(reg *coretelegram.Registry) error {
	reg.RegisterCommand("/start", commands.Command{Handler: h.onStart, Description: "Начать обмен"})
	reg.RegisterCommand("/exchange", commands.Command{Handler: h.onExchange, Description: "Новый обмен", Aliases: []string{"💱 Обмен"}})
	reg.RegisterCommand("/history", commands.Command{Handler: h.onHistory, Description: "История обменов", Aliases: []string{"📜 История"}})
	reg.RegisterCommand("/cancel", commands.Command{Handler: h.onCancel, Description: "Отменить ввод"})
	reg.RegisterCommand("/help", commands.Command{Handler: h.onHelp, Description: "Помощь"})
	reg.RegisterCommand("/stats", commands.Command{Handler: h.onStats, Description: "Состояние бота", AdminOnly: true, Hidden: true})

	cbs := map[string]tele.HandlerFunc{
		cbPickGive:     h.session(h.onPickGive),
		cbPickGet:      h.session(h.onPickGet),
		cbGive:         h.session(h.onGive),
		cbGet:          h.session(h.onGet),
		cbSwap:         h.session(h.onSwap),
		cbAmount:       h.session(h.onAmount),
		cbConfirm:      h.session(h.onConfirm),
		cbBack:         h.session(h.onBack),
		cbMain:         h.session(h.onMain),
		cbCreate:       h.session(h.onCreate),
		cbFieldKeep:    h.session(h.onFieldKeep),
		cbFieldSkip:    h.session(h.onFieldSkip),
		cbFieldsCancel: h.session(h.onFieldsCancel),
		cbPay:          h.session(h.onPay),
		cbCancelOrder:  h.session(h.onCancelOrder),
		cbRestart:      h.session(h.onRestart),
		cbReload:       h.session(h.onReload),
	}
	for key, fn := range cbs {
		if err := reg.RegisterCallback(key, fn); err != nil {
			return fmt.Errorf("register callback %s: %w", key, err)
		}
	}
	reg.SetCallbackNotFound(h.session(h.onMain))

	h.fsm.Handle(stateAmount, h.session(h.onAmountText))
	h.fsm.Handle(stateField, h.session(h.onFieldText))
	reg.SetTextFallback(h.session(h.onFreeText))
	return nil
}

type sessionHandler func(c tele.Context, ctx context.Context, uid int64, s *session.Session) error

// session resolves the user's session, starting one when the user has none.
func (h *Handler) session(fn sessionHandler) tele.HandlerFunc {
	return func(c tele.Context) error {
		uid := userID(c)
		ctx := tghelpers.BuildContext(c)
		s, err := h.sessions.Open(ctx, uid, false)
		if err != nil {
			logStartFailure(ctx, err)
		}
		return fn(c, tghelpers.WithSession(c, s.ID()), uid, s)
	}
}

func (h *Handler) onStart(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	if u := c.Sender(); u != nil && h.profiles != nil {
		err := h.profiles.Touch(ctx, profile.User{
			TelegramID:   u.ID,
			Username:     u.Username,
			FirstName:    u.FirstName,
			LastName:     u.LastName,
			LanguageCode: u.LanguageCode,
		})
		if err != nil {
			logger.Warn(ctx, logger.CompBot, "user.touch",
				slog.String("status", "fail"),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
		}
	}
	if h.webAppURL != "" {
		welcome := format.Lines(
			"👋 "+format.Bold("Добро пожаловать!"),
			"Обменивайте криптовалюту прямо в Telegram.",
		)
		if _, err := h.api.Send(c.Recipient(), welcome, htmlOpts(keyboard.WebAppButton("🌐 Открыть приложение", h.webAppURL))); err != nil {
			return err
		}
	}
	return h.onExchange(c)
}

// onExchange starts a fresh session, dropping any order still being tracked.
func (h *Handler) onExchange(c tele.Context) error {
	uid := userID(c)
	ctx := tghelpers.BuildContext(c)
	h.fsm.Clear(uid)
	s, err := h.sessions.Open(ctx, uid, true)
	if err != nil {
		logStartFailure(ctx, err)
	}
	tghelpers.WithSession(c, s.ID())
	return h.present(c, uid, Render(s.View()))
}

func (h *Handler) onHelp(c tele.Context) error {
	return tghelpers.SendHTML(c, format.Lines(
		"ℹ️ "+format.Bold("Как это работает")+"\n",
		"1. Выберите, что отдаете и что получаете.",
		"2. Укажите сумму и проверьте курс.",
		"3. Заполните данные и создайте заявку.",
		"4. Оплатите заявку и дождитесь зачисления.\n",
		"/exchange - новый обмен",
		"/history - история обменов",
		"/cancel - отменить ввод",
	))
}

func (h *Handler) onStats(c tele.Context) error {
	lines := []string{
		"📈 " + format.Bold("Состояние"),
		fmt.Sprintf("Активных сессий: %d", h.sessions.Len()),
	}
	if h.disp != nil {
		lines = append(lines, fmt.Sprintf("Ошибок отправки: %d", h.disp.ErrorCount()))
	}
	return tghelpers.SendHTML(c, format.Lines(lines...))
}

func (h *Handler) onHistory(c tele.Context) error {
	if h.profiles == nil {
		return tghelpers.SendHTML(c, "История недоступна")
	}
	ctx := tghelpers.BuildContext(c)
	items, err := h.profiles.History(ctx, userID(c), historyLimit)
	if err != nil {
		return err
	}
	return tghelpers.SendHTML(c, HistoryText(items))
}

// HistoryText renders the latest exchanges of a user.
func HistoryText(items []profile.Exchange) string {
	if len(items) == 0 {
		return "📜 У вас пока нет обменов"
	}
	lines := []string{"📜 " + format.Bold("История обменов") + "\n"}
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%s %s %s → %s %s · %s",
			it.CreatedAt.Format("02.01.2006"),
			it.AmountGive.String(), format.Escape(it.CurrencyGive),
			it.AmountGet.String(), format.Escape(it.CurrencyGet),
			format.Escape(it.Status),
		))
	}
	return format.Lines(lines...)
}

func (h *Handler) onCancel(c tele.Context) error {
	uid := userID(c)
	st := h.fsm.GetState(uid)
	h.fsm.Clear(uid)
	s, ok := h.sessions.Get(uid)
	if !ok || st == state.StateIdle {
		return tghelpers.SendHTML(c, "Нечего отменять")
	}
	if st == stateField {
		_ = s.Back()
	}
	return h.present(c, uid, Render(s.View()))
}

func (h *Handler) onMain(c tele.Context, _ context.Context, uid int64, s *session.Session) error {
	h.fsm.Clear(uid)
	return h.show(c, uid, Render(s.View()))
}

func (h *Handler) onPickGive(c tele.Context, _ context.Context, uid int64, s *session.Session) error {
	return h.show(c, uid, RenderPicker("Что вы отдаете?", cbGive, s.Catalog().GiveOptions()))
}

func (h *Handler) onPickGet(c tele.Context, _ context.Context, uid int64, s *session.Session) error {
	give := s.View().Direction.GiveLabel
	return h.show(c, uid, RenderPicker("Что вы получаете?", cbGet, s.Catalog().GetOptions(give)))
}

func (h *Handler) onGive(c tele.Context, ctx context.Context, uid int64, s *session.Session) error {
	opts := s.Catalog().GiveOptions()
	i, err := callbacks.PayloadIndex(c, len(opts))
	if err != nil {
		return h.alert(c, uid, s, session.ErrUnknownCurrency)
	}
	if err := s.SelectGive(ctx, opts[i]); err != nil {
		return h.alert(c, uid, s, err)
	}
	return h.show(c, uid, Render(s.View()))
}

func (h *Handler) onGet(c tele.Context, ctx context.Context, uid int64, s *session.Session) error {
	opts := s.Catalog().GetOptions(s.View().Direction.GiveLabel)
	i, err := callbacks.PayloadIndex(c, len(opts))
	if err != nil {
		return h.alert(c, uid, s, session.ErrUnknownCurrency)
	}
	if err := s.SelectGet(ctx, opts[i]); err != nil {
		return h.alert(c, uid, s, err)
	}
	return h.show(c, uid, Render(s.View()))
}

func (h *Handler) onSwap(c tele.Context, ctx context.Context, uid int64, s *session.Session) error {
	if err := s.Swap(ctx); err != nil {
		return h.alert(c, uid, s, err)
	}
	return h.show(c, uid, Render(s.View()))
}

func (h *Handler) onAmount(c tele.Context, _ context.Context, uid int64, s *session.Session) error {
	pivot := quote.Pivot(callbacks.CallbackPayload(c))
	if !pivot.Valid() {
		pivot = quote.PivotGive
	}
	h.fsm.SetState(uid, stateAmount)
	h.fsm.SetTemp(uid, tempPivot, pivot)
	return h.show(c, uid, RenderAmountPrompt(s.View(), pivot))
}

// RenderAmountPrompt asks for an amount on the given side.
func RenderAmountPrompt(v session.View, pivot quote.Pivot) Screen {
	label := v.Direction.GiveLabel
	title := "Введите сумму, которую отдаете"
	if pivot == quote.PivotGet {
		label = v.Direction.GetLabel
		title = "Введите сумму, которую получаете"
	}
	lines := []string{"✏️ " + format.Bold(title), format.Escape(label)}
	if v.Pivot == pivot && v.AmountInput != "" {
		lines = append(lines, "Сейчас: "+format.Code(v.AmountInput))
	}
	return Screen{
		Text:   format.Lines(lines...),
		Markup: keyboard.InlineButtonsRows([]keyboard.InlineBtn{keyboard.CancelButton(cbMain, "", "❌ Отмена")}),
	}
}

func (h *Handler) onAmountText(c tele.Context, _ context.Context, uid int64, s *session.Session) error {
	pivot := quote.PivotGive
	if v, ok := h.fsm.GetTemp(uid, tempPivot); ok {
		if p, ok := v.(quote.Pivot); ok {
			pivot = p
		}
	}
	if err := s.EditAmount(c.Text(), pivot); err != nil {
		if errors.Is(err, quote.ErrInvalidAmount) {
			return tghelpers.SendHTML(c, "⚠️ "+format.Escape(userErrText(err)))
		}
		h.fsm.Clear(uid)
		return h.alert(c, uid, s, err)
	}
	h.fsm.Clear(uid)
	return h.present(c, uid, Render(s.View()))
}

// onFreeText treats a bare number as a new give amount.
func (h *Handler) onFreeText(c tele.Context, _ context.Context, uid int64, s *session.Session) error {
	text := strings.TrimSpace(c.Text())
	if _, err := quote.ParseAmount(text); err != nil {
		return tghelpers.SendHTML(c, "Используйте кнопки ниже или /exchange для нового обмена")
	}
	if err := s.EditAmount(text, quote.PivotGive); err != nil {
		return h.alert(c, uid, s, err)
	}
	return h.present(c, uid, Render(s.View()))
}

func (h *Handler) onConfirm(c tele.Context, _ context.Context, uid int64, s *session.Session) error {
	if err := s.Confirm(); err != nil {
		return h.alert(c, uid, s, err)
	}
	return h.show(c, uid, Render(s.View()))
}

func (h *Handler) onBack(c tele.Context, _ context.Context, uid int64, s *session.Session) error {
	h.fsm.Clear(uid)
	if err := s.Back(); err != nil {
		return h.alert(c, uid, s, err)
	}
	return h.show(c, uid, Render(s.View()))
}

func (h *Handler) onCreate(c tele.Context, ctx context.Context, uid int64, s *session.Session) error {
	step, err := s.BeginFields(ctx)
	if err != nil {
		var verrs fields.ValidationErrors
		if step.Form == nil || !errors.As(err, &verrs) {
			return h.alert(c, uid, s, err)
		}
		// Auto-submitted form rejected: ask for the offending fields.
		h.startForm(uid, step.Form, verrs)
		return h.promptField(c, uid, s)
	}
	if step.Order != nil {
		return h.show(c, uid, Render(s.View()))
	}
	h.startForm(uid, step.Form, nil)
	return h.promptField(c, uid, s)
}

func (h *Handler) startForm(uid int64, form *fields.Form, problems fields.ValidationErrors) {
	h.fsm.Clear(uid)
	h.fsm.SetState(uid, stateField)
	h.fsm.SetTemp(uid, tempValues, form.Initial())
	h.fsm.SetTemp(uid, tempQueue, fieldQueue(form.Visible(), problems))
	h.fsm.SetTemp(uid, tempProblems, problems)
}

// fieldQueue lists the visible field indexes to ask for. With problems only
// the offending fields are asked again.
func fieldQueue(visible []fields.Field, problems fields.ValidationErrors) []int {
	queue := make([]int, 0, len(visible))
	for i, f := range visible {
		if len(problems) > 0 {
			if _, bad := problems[f.Name]; !bad {
				continue
			}
		}
		queue = append(queue, i)
	}
	return queue
}

type formState struct {
	form     *fields.Form
	visible  []fields.Field
	queue    []int
	values   map[string]string
	problems fields.ValidationErrors
}

func (h *Handler) loadForm(uid int64, s *session.Session) (formState, bool) {
	form := s.Form()
	if form == nil || h.fsm.GetState(uid) != stateField {
		return formState{}, false
	}
	st := formState{form: form, visible: form.Visible()}
	if v, ok := h.fsm.GetTemp(uid, tempQueue); ok {
		st.queue, _ = v.([]int)
	}
	if v, ok := h.fsm.GetTemp(uid, tempValues); ok {
		st.values, _ = v.(map[string]string)
	}
	if v, ok := h.fsm.GetTemp(uid, tempProblems); ok {
		st.problems, _ = v.(fields.ValidationErrors)
	}
	if st.values == nil {
		st.values = form.Initial()
	}
	return st, true
}

func (h *Handler) promptField(c tele.Context, uid int64, s *session.Session) error {
	st, ok := h.loadForm(uid, s)
	if !ok || len(st.queue) == 0 {
		h.fsm.Clear(uid)
		return h.show(c, uid, Render(s.View()))
	}
	idx := st.queue[0]
	f := st.visible[idx]
	return h.show(c, uid, RenderFieldPrompt(f, idx, len(st.visible), st.values[f.Name], st.problems[f.Name]))
}

// answerField stores the value of the current field and moves on.
func (h *Handler) answerField(c tele.Context, ctx context.Context, uid int64, s *session.Session, value func(initial string) string) error {
	st, ok := h.loadForm(uid, s)
	if !ok || len(st.queue) == 0 {
		h.fsm.Clear(uid)
		return h.show(c, uid, Render(s.View()))
	}
	f := st.visible[st.queue[0]]
	st.values[f.Name] = value(st.values[f.Name])
	st.queue = st.queue[1:]
	h.fsm.SetTemp(uid, tempValues, st.values)
	h.fsm.SetTemp(uid, tempQueue, st.queue)
	if len(st.queue) > 0 {
		return h.promptField(c, uid, s)
	}

	_, err := s.SubmitFields(ctx, st.values)
	var verrs fields.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		h.fsm.SetTemp(uid, tempQueue, fieldQueue(st.visible, verrs))
		h.fsm.SetTemp(uid, tempProblems, verrs)
		return h.promptField(c, uid, s)
	case err != nil:
		h.fsm.Clear(uid)
		var failure *session.Failure
		if errors.As(err, &failure) {
			return h.show(c, uid, Render(s.View()))
		}
		return h.alert(c, uid, s, err)
	}
	h.fsm.Clear(uid)
	return h.show(c, uid, Render(s.View()))
}

func (h *Handler) onFieldText(c tele.Context, ctx context.Context, uid int64, s *session.Session) error {
	text := strings.TrimSpace(c.Text())
	return h.answerField(c, ctx, uid, s, func(string) string { return text })
}

func (h *Handler) onFieldKeep(c tele.Context, ctx context.Context, uid int64, s *session.Session) error {
	return h.answerField(c, ctx, uid, s, func(initial string) string { return initial })
}

func (h *Handler) onFieldSkip(c tele.Context, ctx context.Context, uid int64, s *session.Session) error {
	return h.answerField(c, ctx, uid, s, func(string) string { return "" })
}

func (h *Handler) onFieldsCancel(c tele.Context, _ context.Context, uid int64, s *session.Session) error {
	h.fsm.Clear(uid)
	_ = s.Back()
	return h.show(c, uid, Render(s.View()))
}

func (h *Handler) onPay(c tele.Context, ctx context.Context, uid int64, s *session.Session) error {
	if _, err := s.Pay(ctx); err != nil {
		return h.alert(c, uid, s, err)
	}
	return h.show(c, uid, Render(s.View()))
}

func (h *Handler) onCancelOrder(c tele.Context, ctx context.Context, uid int64, s *session.Session) error {
	if _, err := s.CancelOrder(ctx); err != nil {
		return h.alert(c, uid, s, err)
	}
	return h.show(c, uid, Render(s.View()))
}

func (h *Handler) onRestart(c tele.Context, ctx context.Context, uid int64, s *session.Session) error {
	h.fsm.Clear(uid)
	s.Restart(ctx)
	return h.show(c, uid, Render(s.View()))
}

func (h *Handler) onReload(c tele.Context, ctx context.Context, uid int64, s *session.Session) error {
	if err := s.Reload(ctx); err != nil {
		logger.Warn(ctx, logger.CompBot, "session.reload",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
	return h.show(c, uid, Render(s.View()))
}

// show edits the callback message in place, or sends a new screen otherwise.
func (h *Handler) show(c tele.Context, uid int64, sc Screen) error {
	cb := c.Callback()
	if cb == nil || cb.Message == nil {
		return h.present(c, uid, sc)
	}
	msg, err := h.api.Edit(cb.Message, sc.Text, htmlOpts(sc.Markup))
	if isNotModified(err) {
		msg, err = cb.Message, nil
	}
	if err != nil {
		return err
	}
	h.remember(uid, msg, sc.Text)
	return nil
}

// present always sends a new screen message.
func (h *Handler) present(c tele.Context, uid int64, sc Screen) error {
	msg, err := h.api.Send(c.Recipient(), sc.Text, htmlOpts(sc.Markup))
	if err != nil {
		return err
	}
	h.remember(uid, msg, sc.Text)
	return nil
}

func (h *Handler) remember(uid int64, msg *tele.Message, text string) {
	if msg == nil {
		return
	}
	chatID := uid
	if msg.Chat != nil {
		chatID = msg.Chat.ID
	}
	h.sessions.SetScreen(uid, tele.StoredMessage{MessageID: strconv.Itoa(msg.ID), ChatID: chatID}, text)
}

// alert reports err to the user and redraws the screen.
func (h *Handler) alert(c tele.Context, uid int64, s *session.Session, err error) error {
	text := userErrText(err)
	logger.Debug(tghelpers.BuildContext(c), logger.CompBot, "action.rejected",
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	)
	if c.Callback() != nil {
		_ = c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
		return h.show(c, uid, Render(s.View()))
	}
	return tghelpers.SendHTML(c, "⚠️ "+format.Escape(text))
}

// refresh redraws the stored screen after a background change of s.
func (h *Handler) refresh(uid int64, s *session.Session) {
	if h.api == nil {
		return
	}
	if cur, ok := h.sessions.Peek(uid); !ok || cur != s {
		return
	}
	if h.fsm.InProgress(uid) {
		return
	}
	msg, ok := h.sessions.Screen(uid)
	if !ok {
		return
	}
	ctx := logger.WithSession(context.Background(), s.ID())
	h.enqueue(ctx, "screen.refresh", "editMessageText", func() error {
		sc := Render(s.View())
		if !h.sessions.swapText(uid, sc.Text) {
			return nil
		}
		_, err := h.api.Edit(msg, sc.Text, htmlOpts(sc.Markup))
		if isNotModified(err) {
			return nil
		}
		return err
	})
}

func (h *Handler) orderCreated(uid int64, s *session.Session, o order.Order) {
	ctx := logger.WithSession(context.Background(), s.ID())
	d := s.View().Direction
	if h.profiles != nil {
		h.enqueue(ctx, "profile.record_exchange", "db", func() error {
			if err := h.profiles.RecordExchange(ctx, uid, d.ID, o); err != nil {
				return err
			}
			return h.profiles.SaveDefaultDirection(ctx, uid, d.GiveLabel, d.GetLabel)
		})
	}
	if h.notifier != nil && h.notificationsEnabled(ctx, uid) {
		if err := h.notifier.OrderCreated(ctx, uid, o); err != nil {
			logNotifyFailure(ctx, err)
		}
	}
}

// orderTitle stores every status change reported by polling.
func (h *Handler) orderTitle(uid int64, s *session.Session, o order.Order) {
	if h.profiles == nil || o.Hash == "" {
		return
	}
	ctx := logger.WithOrder(logger.WithSession(context.Background(), s.ID()), o.Hash)
	status := o.StatusTitle
	if status == "" {
		status = o.StatusCode
	}
	h.enqueue(ctx, "profile.exchange_status", "db", func() error {
		return h.profiles.UpdateExchangeStatus(ctx, o.Hash, status)
	})
}

func (h *Handler) orderStatus(uid int64, s *session.Session, prev, next order.Status, o order.Order) {
	ctx := logger.WithOrder(logger.WithSession(context.Background(), s.ID()), o.Hash)
	if h.notifier != nil && h.notificationsEnabled(ctx, uid) {
		if err := h.notifier.StatusChanged(ctx, uid, prev, next, o); err != nil {
			logNotifyFailure(ctx, err)
		}
	}
}

func (h *Handler) notificationsEnabled(ctx context.Context, uid int64) bool {
	if h.profiles == nil {
		return true
	}
	p, err := h.profiles.Preferences(ctx, uid)
	if err != nil {
		return true
	}
	return p.NotificationsEnabled
}

// enqueue runs fn on the dispatcher, or inline when it is missing or full.
func (h *Handler) enqueue(ctx context.Context, action, endpoint string, fn func() error) {
	if h.disp != nil {
		err := h.disp.Enqueue(ctx, action, endpoint, fn)
		if err == nil {
			return
		}
		logger.Warn(ctx, logger.CompBot, "queue.fallback",
			slog.String("action", action),
			slog.String("err", err.Error()),
		)
	}
	if err := fn(); err != nil {
		logger.Warn(ctx, logger.CompBot, action,
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
}

func userErrText(err error) string {
	var f *session.Failure
	switch {
	case errors.As(err, &f):
		return f.Reason
	case errors.Is(err, quote.ErrInvalidAmount):
		return "Введите сумму числом, например 150.5"
	case errors.Is(err, session.ErrNoQuote), errors.Is(err, session.ErrQuotePending):
		return "Дождитесь расчета курса"
	case errors.Is(err, session.ErrNoReverse):
		return "Обратное направление недоступно"
	case errors.Is(err, session.ErrUnknownCurrency):
		return "Валюта не найдена, откройте список заново"
	case errors.Is(err, session.ErrNotStarted):
		return "Направления еще не загружены"
	case errors.Is(err, order.ErrPaymentWindowExpired):
		return "Время на оплату истекло"
	case errors.Is(err, order.ErrPayUnavailable):
		return "Подтверждение оплаты через бота недоступно"
	case errors.Is(err, order.ErrCancelUnavailable):
		return "Отмена через бота недоступна"
	case errors.Is(err, order.ErrCreateInFlight):
		return "Заявка уже создается"
	case errors.Is(err, order.ErrInvalidPhase), errors.Is(err, order.ErrStale):
		return "Действие сейчас недоступно"
	default:
		return "Что-то пошло не так, попробуйте еще раз"
	}
}

func htmlOpts(markup *tele.ReplyMarkup) *tele.SendOptions {
	return &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true, ReplyMarkup: markup}
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func userID(c tele.Context) int64 {
	if u := c.Sender(); u != nil {
		return u.ID
	}
	return 0
}

func logStartFailure(ctx context.Context, err error) {
	logger.Warn(ctx, logger.CompBot, "session.start",
		slog.String("status", "fail"),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	)
}

func logNotifyFailure(ctx context.Context, err error) {
	logger.Warn(ctx, logger.CompNotify, "notify.send",
		slog.String("status", "fail"),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	)
}
