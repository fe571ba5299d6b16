// chatctl - command line client for the crmchat relay.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/clients/go/crmchat"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CRMCHAT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := crmchat.NewClient(baseURL)
	client.Token = os.Getenv("CRMCHAT_TOKEN")
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "login":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chatctl login <username> <password>")
			os.Exit(1)
		}
		resp, err := client.Login(os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("Logged in as %s (%s)\n", resp.User.Username, resp.User.ID)
		fmt.Printf("export CRMCHAT_TOKEN=%s\n", resp.Token)

	case "logout":
		exitOnError(client.Logout())
		fmt.Println("Logged out")

	case "contacts":
		contacts, err := client.Contacts()
		exitOnError(err)
		for _, c := range contacts {
			marker := " "
			if c.Online {
				marker = "*"
			}
			fmt.Printf("%s %s  %s", marker, c.ID, c.Username)
			if c.Unread > 0 {
				fmt.Printf("  (%d unread)", c.Unread)
			}
			fmt.Println()
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chatctl send <user_id> <text>")
			os.Exit(1)
		}
		msg, err := client.SendMessage(os.Args[2], strings.Join(os.Args[3:], " "), nil)
		exitOnError(err)
		fmt.Printf("Sent: %s\n", msg.ID)

	case "history":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatctl history <user_id>")
			os.Exit(1)
		}
		messages, err := client.History(os.Args[2])
		exitOnError(err)
		for _, msg := range messages {
			from := msg.From
			if len(from) > 8 {
				from = from[:8]
			}
			fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Local().Format("2006-01-02 15:04:05"), from, msg.Text)
		}

	case "unread":
		count, err := client.UnreadCount()
		exitOnError(err)
		fmt.Println(count)

	case "notify":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chatctl notify <user_id> <text>")
			os.Exit(1)
		}
		exitOnError(client.Notify(os.Args[2], strings.Join(os.Args[3:], " ")))
		fmt.Println("Accepted")

	case "listen":
		listen(client, baseURL)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// listen keeps a realtime connection open, printing incoming messages
// and notifications; stdin lines of the form "<user_id> <text>" are
// sent as messages.
func listen(client *crmchat.Client, baseURL string) {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws/chat"
	rt := crmchat.NewRealtimeClient(client, wsURL)
	rt.OnMessage = func(m crmchat.Message) {
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.From, m.Text)
	}
	rt.OnNotification = func(text string, ts time.Time) {
		fmt.Printf("[%s] ! %s\n", ts.Local().Format("15:04:05"), text)
	}
	rt.OnStateChange = func(s crmchat.State) {
		fmt.Fprintf(os.Stderr, "-- %s\n", s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			fmt.Fprintln(os.Stderr, "format: <user_id> <text>")
			continue
		}
		msg, err := rt.Send(ctx, parts[0], parts[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			continue
		}
		fmt.Printf("sent %s\n", msg.ID)
	}
}

func usage() {
	fmt.Println(`chatctl - crmchat command line client

Usage: chatctl <command> [options]

Commands:
  login <username> <password>   Log in and print the session token
  logout                        Delete the current session
  contacts                      List contacts (* = online)
  send <user_id> <text>         Send a message over HTTP
  history <user_id>             Show the conversation with a user
  unread                        Count unread messages
  notify <user_id> <text>       Push a notification
  listen                        Keep a realtime connection open
  health                        Check server health

Environment:
  CRMCHAT_URL     Server URL (default: http://localhost:8080)
  CRMCHAT_TOKEN   Session token from login`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
