package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"minuteman/app/pkg/types"
)

type CLIChannel struct {
	id      string
	botName string
	userID  string
}

func NewCLIChannel(botName string, userID string) *CLIChannel {
	if strings.TrimSpace(userID) == "" {
		userID = "local_user"
	}
	if strings.TrimSpace(botName) == "" {
		botName = "Minuteman"
	}
	return &CLIChannel{id: "cli", botName: botName, userID: userID}
}

func (c *CLIChannel) ID() string {
	return c.id
}

func (c *CLIChannel) Start(ctx context.Context, handler func(types.Message)) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf(">> %s CLI started. Type 'exit' to quit.\n", c.botName)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fmt.Print("> ")
			if !scanner.Scan() {
				return nil
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "exit" || text == "quit" {
				fmt.Println("Exiting CLI loop...")
				return nil
			}

			msgID := fmt.Sprintf("cli-%d", time.Now().UnixNano())
			handler(types.Message{
				ID:          msgID,
				Content:     text,
				Role:        types.MessageRoleUser,
				ChannelID:   c.id,
				Scope:       types.Scope{Type: types.ScopeUser, ID: c.userID},
				UserID:      c.userID,
				DisplayName: c.userID,
				RequestID:   msgID,
			})
		}
	}
}

func (c *CLIChannel) Send(ctx context.Context, msg types.Message) error {
	fmt.Printf("[%s]: %s\n", c.botName, msg.Content)
	return nil
}
