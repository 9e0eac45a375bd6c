package commands

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"ridechat/internal/chatview"
	"ridechat/internal/models"
)

// ErrQuit is returned by Prompt when the user leaves.
var ErrQuit = errors.New("quit")

// Chat is the part of the chat view the prompt drives.
type Chat interface {
	Send(text string) error
	SendPrivate(receiverID, text string) error
	SelectByID(conversationID string) error
	OpenRide(rideID string, owner models.User) error
	LoadConversations() error
	MarkRead(conversationID string) error
	View() (chatview.View, error)
}

const help = `commands:
  /list                 show conversations
  /open <conversation>  open a conversation
  /ride <ride> [owner]  chat about a ride with its owner
  /dm <user> <text>     send a direct message
  /read <conversation>  mark a conversation read
  /history              show the open conversation
  /refresh              reload conversations
  /quit                 leave
anything else is sent to the open conversation
`

// Prompt reads commands from in until ctx is done, in is exhausted or
// the user quits. Failed commands are reported through the chat view's
// notices, so only ErrQuit and ctx errors end it.
func Prompt(ctx context.Context, in io.Reader, chat Chat, term *Terminal) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return ErrQuit
			}
			if err := execute(chat, term, line); err != nil {
				return err
			}
		}
	}
}

func execute(chat Chat, term *Terminal, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return report(term, chat.Send(line))
	}

	cmd, rest, _ := strings.Cut(line, " ")
	args := strings.Fields(rest)
	switch cmd {
	case "/quit", "/exit":
		return ErrQuit
	case "/help":
		term.printf("%s", help)
	case "/list":
		v, err := chat.View()
		if err != nil {
			return report(term, err)
		}
		term.Conversations(v)
	case "/history":
		v, err := chat.View()
		if err != nil {
			return report(term, err)
		}
		term.History(v)
	case "/open":
		if len(args) != 1 {
			term.printf("usage: /open <conversation>\n")
			return nil
		}
		return report(term, chat.SelectByID(args[0]))
	case "/ride":
		if len(args) < 1 || len(args) > 2 {
			term.printf("usage: /ride <ride> [owner]\n")
			return nil
		}
		var owner models.User
		if len(args) == 2 {
			owner.ID = models.ID(args[1])
		}
		return report(term, chat.OpenRide(args[0], owner))
	case "/dm":
		user, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
		if user == "" {
			term.printf("usage: /dm <user> <text>\n")
			return nil
		}
		return report(term, chat.SendPrivate(user, text))
	case "/read":
		if len(args) != 1 {
			term.printf("usage: /read <conversation>\n")
			return nil
		}
		return report(term, chat.MarkRead(args[0]))
	case "/refresh":
		return report(term, chat.LoadConversations())
	default:
		term.printf("unknown command %s, try /help\n", cmd)
	}
	return nil
}

// report prints errors the chat view does not announce itself and stops
// the prompt once the view is gone.
func report(term *Terminal, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chatview.ErrClosed):
		return err
	case errors.Is(err, chatview.ErrEmptyMessage),
		errors.Is(err, chatview.ErrNoConversation),
		errors.Is(err, chatview.ErrNotConnected),
		errors.Is(err, chatview.ErrSelfChat):
		return nil
	}
	term.printf("! %v\n", err)
	return nil
}
