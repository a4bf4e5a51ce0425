// Package cli is a local chat loop against the assistant, mainly for
// development: type a message, get the reply inline.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"nudge/app/core/assistant"
)

type Chat struct {
	driver *assistant.Driver
	userID int64
}

func NewChat(driver *assistant.Driver, userID int64) *Chat {
	return &Chat{driver: driver, userID: userID}
}

func (c *Chat) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println(">> Nudge CLI started. Type 'exit' to quit.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fmt.Print("> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if text == "exit" || text == "quit" {
				fmt.Println("Exiting CLI loop...")
				return nil
			}

			reply, err := c.driver.RunTurn(ctx, c.userID, text)
			if err != nil {
				fmt.Printf("[Nudge][error]: %v\n", err)
				continue
			}
			fmt.Printf("[Nudge]: %s\n", reply)
		}
	}
}
