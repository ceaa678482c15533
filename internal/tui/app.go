package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/petadopt/petchat/internal/bus"
	"github.com/petadopt/petchat/internal/outbox"
	"github.com/petadopt/petchat/internal/tui/client"
	"github.com/petadopt/petchat/internal/tui/keys"
	"github.com/petadopt/petchat/internal/tui/model"
	"github.com/petadopt/petchat/internal/tui/views"
	"github.com/petadopt/petchat/internal/wire"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageList   = "list"
	pageThread = "thread"

	flashFor = 5 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	root      *tview.Flex
	pages     *tview.Pages
	vm        *model.ViewModel
	api       *client.Client
	registry  *keys.Registry
	statusBar *views.StatusBar
	convList  *views.ConversationList
	msgView   *views.MessageView
	composer  *views.Composer
	prompt    *views.Prompt
	queue     *outbox.Queue
	sender    *outbox.Sender
	bus       *bus.Bus
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, instanceName string, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := bus.New()
	q := outbox.NewQueue()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(c),
		api:       c,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		prompt:    views.NewPrompt(),
		queue:     q,
		sender:    outbox.NewSender(q, c, b, logger.Named("outbox")),
		bus:       b,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetInstance(instanceName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.Add(keys.Global, &keys.Action{
		Key: tcell.KeyRune, Rune: 'q',
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.Add(keys.Global, &keys.Action{
		Key: tcell.KeyRune, Rune: ':',
		Description: "::command", Visible: true,
		Handler: func() { a.showPrompt("") },
	})
	a.registry.Add(keys.Global, &keys.Action{
		Key: tcell.KeyCtrlR,
		Handler: func() { go a.reload() },
	})

	a.registry.Add(pageList, &keys.Action{
		Key: tcell.KeyRune, Rune: 'n',
		Description: "n:new", Visible: true,
		Handler: func() { a.showPrompt("new ") },
	})
	a.registry.Add(pageList, &keys.Action{
		Key: tcell.KeyRune, Rune: 'd',
		Description: "d:delete", Visible: true,
		Handler: func() { a.deleteConversation(a.convList.SelectedConversation()) },
	})

	a.registry.Add(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Description: "i:write", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer) },
	})
	a.registry.Add(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'd',
		Description: "d:delete", Visible: true,
		Handler: func() { a.deleteSelectedMessage() },
	})
	a.registry.Add(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'r',
		Description: "r:retry", Visible: true,
		Handler: func() { a.retryFailed() },
	})
	a.registry.Add(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'x',
		Handler: func() { a.discardFailed() },
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if id := a.convList.SelectedConversation(); id != "" {
			a.openConversation(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		convID := a.vm.ActiveConversationID()
		if convID == "" {
			return
		}
		a.queue.Enqueue(convID, text)
		a.renderThread()
	})

	a.prompt.SetOnSubmit(func(text string) {
		a.hidePrompt()
		a.runCommand(ParseCommand(text))
	})
	a.prompt.SetOnCancel(a.hidePrompt)
}

func (a *App) setupLayout() {
	threadFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, true).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageList, a.convList, true, true)
	a.pages.AddPage(pageThread, threadFlex, true, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.statusBar.SetHints(a.registry.Hints(pageList))

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		focused := a.app.GetFocus()
		if focused == a.prompt.InputField {
			return event
		}

		currentPage, _ := a.pages.GetFrontPage()
		if event.Key() == tcell.KeyEscape {
			if focused == a.composer.InputField {
				a.app.SetFocus(a.msgView)
				return nil
			}
			if currentPage == pageThread {
				a.showList()
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}
		return event
	})
}

// runCommand executes a ':' command.
func (a *App) runCommand(cmd Command) {
	if err := cmd.Validate(); err != nil {
		a.vm.Flash.Error(err.Error(), flashFor)
		a.renderStatus()
		return
	}
	switch cmd.Name {
	case "new", "n":
		a.startConversation(cmd.Args)
	case "delete", "d":
		if convID := a.vm.ActiveConversationID(); convID != "" {
			a.deleteConversation(convID)
		} else {
			a.deleteConversation(a.convList.SelectedConversation())
		}
	case "retry", "r":
		a.retryFailed()
	case "discard":
		a.discardFailed()
	case "reload":
		go a.reload()
	case "quit", "q":
		a.app.Stop()
	}
}

func (a *App) showPrompt(text string) {
	a.prompt.SetText(text)
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	if page, _ := a.pages.GetFrontPage(); page == pageThread {
		a.app.SetFocus(a.msgView)
	} else {
		a.app.SetFocus(a.convList)
	}
}

func (a *App) showList() {
	a.vm.CloseConversation()
	a.pages.SwitchToPage(pageList)
	a.app.SetFocus(a.convList)
	a.statusBar.SetHints(a.registry.Hints(pageList))
	a.convList.Update(a.vm.Conversations())
}

func (a *App) openConversation(id string) {
	go func() {
		if err := a.vm.OpenConversation(a.ctx, id); err != nil {
			a.flashError("Load failed", err)
			return
		}
		name := id
		if conv, ok := a.vm.Conversation(id); ok {
			name = conv.OtherParticipant.Name
			if name == "" {
				name = conv.OtherParticipant.ID
			}
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetConversationName(name)
			a.renderThread()
			a.convList.Update(a.vm.Conversations())
			a.pages.SwitchToPage(pageThread)
			a.app.SetFocus(a.composer)
			a.statusBar.SetHints(a.registry.Hints(pageThread))
		})
	}()
}

func (a *App) startConversation(otherUserID string) {
	go func() {
		conv, err := a.vm.StartConversation(a.ctx, otherUserID)
		if err != nil {
			a.flashError("Start failed", err)
			return
		}
		a.openConversation(conv.ID)
	}()
}

func (a *App) deleteConversation(id string) {
	if id == "" {
		return
	}
	go func() {
		if err := a.vm.DeleteConversation(a.ctx, id); err != nil {
			a.flashError("Delete failed", err)
			return
		}
		a.vm.Flash.Info("Conversation deleted", flashFor)
		a.app.QueueUpdateDraw(func() {
			if page, _ := a.pages.GetFrontPage(); page == pageThread {
				a.showList()
			}
			a.convList.Update(a.vm.Conversations())
			a.renderStatus()
		})
	}()
}

func (a *App) deleteSelectedMessage() {
	m, ok := a.msgView.SelectedMessage()
	if !ok {
		return
	}
	if userID := a.vm.UserID(); userID != "" && m.Sender.ID != userID {
		a.vm.Flash.Error("Only your own messages can be deleted", flashFor)
		a.renderStatus()
		return
	}
	go func() {
		if err := a.vm.DeleteMessage(a.ctx, m.ID); err != nil {
			a.flashError("Delete failed", err)
			return
		}
		a.reload()
	}()
}

func (a *App) retryFailed() {
	e, ok := a.queue.LastFailed(a.vm.ActiveConversationID())
	if !ok {
		return
	}
	if err := a.queue.Retry(e.ClientMsgID); err != nil {
		a.vm.Flash.Error(err.Error(), flashFor)
	}
	a.renderThread()
}

func (a *App) discardFailed() {
	if e, ok := a.queue.LastFailed(a.vm.ActiveConversationID()); ok {
		a.queue.Discard(e.ClientMsgID)
		a.renderThread()
	}
}

// reload refetches the list and the open thread. Used after reconnecting,
// since pushes sent while offline are not replayed.
func (a *App) reload() {
	if err := a.vm.LoadConversations(a.ctx); err != nil {
		a.flashError("Refresh failed", err)
	}
	if id := a.vm.ActiveConversationID(); id != "" {
		if err := a.vm.OpenConversation(a.ctx, id); err != nil {
			a.flashError("Refresh failed", err)
		}
	}
	a.app.QueueUpdateDraw(func() {
		a.convList.Update(a.vm.Conversations())
		a.renderThread()
	})
}

func (a *App) handleEvent(ev wire.Event) {
	if a.vm.ApplyEvent(ev) {
		go a.reload()
	}
	if ev.Type == wire.EventNewMessage && ev.Message != nil && ev.Message.ConversationID == a.vm.ActiveConversationID() {
		go func() {
			if _, err := a.api.MarkRead(a.ctx, ev.Message.ConversationID); err != nil {
				a.logger.Debug("mark read failed", zap.Error(err))
			}
		}()
	}
	a.app.QueueUpdateDraw(func() {
		a.convList.Update(a.vm.Conversations())
		a.renderThread()
		a.renderStatus()
	})
}

func (a *App) handleState(connected bool, err error) {
	wasConnected := a.vm.Connected()
	a.vm.SetConnected(connected)
	switch {
	case connected && !wasConnected:
		go a.reload()
	case !connected && err != nil:
		a.logger.Debug("realtime disconnected", zap.Error(err))
		a.vm.Flash.Error("Disconnected, reconnecting...", flashFor)
	}
	a.app.QueueUpdateDraw(a.renderStatus)
}

// watchOutbox applies send results published by the outbox sender.
func (a *App) watchOutbox() {
	ch, unsub := a.bus.Subscribe("outbox.", 64)
	defer unsub()
	for {
		select {
		case <-a.ctx.Done():
			return
		case evt := <-ch:
			switch p := evt.Payload.(type) {
			case outbox.SendResult:
				a.vm.ApplySent(p.Message)
			case outbox.SendFailure:
				a.vm.Flash.Error("Send failed: "+p.Error, flashFor)
			}
			a.app.QueueUpdateDraw(func() {
				a.convList.Update(a.vm.Conversations())
				a.renderThread()
				a.renderStatus()
			})
		}
	}
}

func (a *App) runStream() {
	stream := a.api.Stream()
	stream.OnEvent = a.handleEvent
	stream.OnState = a.handleState
	err := stream.Run(a.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.flashError("Realtime stopped", err)
	}
}

// renderThread redraws the open thread. Call from the UI goroutine.
func (a *App) renderThread() {
	convID := a.vm.ActiveConversationID()
	if convID == "" {
		return
	}
	a.msgView.Update(a.vm.Messages(), a.queue.ForConversation(convID), a.vm.UserID())
}

func (a *App) renderStatus() {
	a.statusBar.SetUser(a.vm.UserID())
	a.statusBar.SetConnected(a.vm.Connected())
	a.statusBar.SetFlash(a.vm.Flash.Get())
}

func (a *App) flashError(prefix string, err error) {
	a.vm.Flash.Error(fmt.Sprintf("%s: %v", prefix, err), flashFor)
	a.app.QueueUpdateDraw(a.renderStatus)
}

func (a *App) startClock() {
	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.app.QueueUpdateDraw(a.renderStatus)
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	a.sender.Start(a.ctx)
	go a.watchOutbox()
	go a.runStream()
	go func() {
		if err := a.vm.LoadConversations(a.ctx); err != nil {
			a.flashError("Load failed", err)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.convList.Update(a.vm.Conversations())
		})
	}()
	a.startClock()

	err := a.app.Run()
	a.Stop()
	return err
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.sender.Stop()
	a.app.Stop()
}
