package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"courier/internal/ctl"
	"courier/internal/session"
	"courier/internal/store"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := ctl.New(session.SocketPath(profile))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "login":
		cmdCredentials(ctx, c, "/v1/login", args[1:])
	case "register":
		cmdCredentials(ctx, c, "/v1/register", args[1:])
	case "logout":
		cmdSimplePost(ctx, c, "/v1/logout")
	case "chats":
		cmdChats(ctx, c, *jsonFlag)
	case "direct":
		cmdDirect(ctx, c, args[1:])
	case "messages":
		cmdMessages(ctx, c, args[1:], *jsonFlag)
	case "send":
		cmdSend(ctx, c, args[1:])
	case "edit":
		cmdEdit(ctx, c, args[1:])
	case "pin", "unpin":
		cmdPin(ctx, c, args[0] == "pin", args[1:])
	case "delete":
		cmdDeleteForEveryone(ctx, c, args[1:])
	case "delete-for-me":
		cmdDeleteForMe(ctx, c, args[1:])
	case "delete-chat":
		cmdDeleteChat(ctx, c, args[1:])
	case "sync":
		cmdSimplePost(ctx, c, "/v1/sync")
	case "watch":
		cmdWatch(c)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: courierctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show daemon status")
	fmt.Fprintln(os.Stderr, "  login <user> <password>     Log in")
	fmt.Fprintln(os.Stderr, "  register <user> <password>  Create an account and log in")
	fmt.Fprintln(os.Stderr, "  logout                      Log out and clear local session")
	fmt.Fprintln(os.Stderr, "  chats                       List chats")
	fmt.Fprintln(os.Stderr, "  direct <username>           Open a direct chat")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>          Show recent messages")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text...>    Send a message")
	fmt.Fprintln(os.Stderr, "  edit <message-id> <text...> Edit a message")
	fmt.Fprintln(os.Stderr, "  pin|unpin <message-id>      Pin or unpin a message")
	fmt.Fprintln(os.Stderr, "  delete <chat-id> <msg-id...>  Delete messages for everyone")
	fmt.Fprintln(os.Stderr, "  delete-for-me <msg-id...>   Remove messages from this device")
	fmt.Fprintln(os.Stderr, "  delete-chat <chat-id>       Delete a chat for me")
	fmt.Fprintln(os.Stderr, "  sync                        Trigger a sync cycle now")
	fmt.Fprintln(os.Stderr, "  watch                       Stream daemon events")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdStatus(ctx context.Context, c *ctl.Client, jsonOut bool) {
	var st struct {
		State     string `json:"state"`
		LoggedIn  bool   `json:"loggedIn"`
		UserID    string `json:"userId"`
		Username  string `json:"username"`
		Connected bool   `json:"connected"`
	}
	if err := c.Get(ctx, "/v1/status", &st); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("State:     %s\n", st.State)
	fmt.Printf("Connected: %v\n", st.Connected)
	if st.LoggedIn {
		fmt.Printf("User:      %s (%s)\n", st.Username, st.UserID)
	} else {
		fmt.Println("User:      not logged in")
	}
}

func cmdCredentials(ctx context.Context, c *ctl.Client, path string, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: courierctl login|register <username> <password>")
		os.Exit(1)
	}
	var out struct {
		Username string `json:"username"`
	}
	if err := c.Post(ctx, path, map[string]string{"username": args[0], "password": args[1]}, &out); err != nil {
		fatal(err)
	}
	fmt.Printf("logged in as %s\n", out.Username)
}

func cmdSimplePost(ctx context.Context, c *ctl.Client, path string) {
	if err := c.Post(ctx, path, nil, nil); err != nil {
		fatal(err)
	}
	fmt.Println("ok")
}

func cmdChats(ctx context.Context, c *ctl.Client, jsonOut bool) {
	var chats []store.Chat
	if err := c.Get(ctx, "/v1/chats", &chats); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	if len(chats) == 0 {
		fmt.Println("no chats")
		return
	}
	for _, chat := range chats {
		names := make([]string, 0, len(chat.Participants))
		for _, p := range chat.Participants {
			names = append(names, p.Username)
		}
		fmt.Printf("%s  %-30s  %s\n", chat.ID, strings.Join(names, ", "), chat.LastMessagePreview)
	}
}

func cmdDirect(ctx context.Context, c *ctl.Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: courierctl direct <username>")
		os.Exit(1)
	}
	var chat store.Chat
	if err := c.Post(ctx, "/v1/chats/direct", map[string]string{"username": args[0]}, &chat); err != nil {
		fatal(err)
	}
	fmt.Printf("chat %s\n", chat.ID)
}

func cmdMessages(ctx context.Context, c *ctl.Client, args []string, jsonOut bool) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: courierctl messages <chat-id>")
		os.Exit(1)
	}
	var msgs []store.Message
	if err := c.Get(ctx, "/v1/chats/"+args[0]+"/messages", &msgs); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		ts := time.UnixMilli(m.CreatedAt).Format("15:04")
		text := m.Text
		if m.Deleted {
			text = "(deleted)"
		}
		marker := " "
		if m.Pinned {
			marker = "*"
		}
		fmt.Printf("%s %s [%s] %s: %s\n", marker, ts, m.Status, m.SenderID, text)
	}
}

func cmdSend(ctx context.Context, c *ctl.Client, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: courierctl send <chat-id> <text...>")
		os.Exit(1)
	}
	var m store.Message
	body := map[string]string{"text": strings.Join(args[1:], " ")}
	if err := c.Post(ctx, "/v1/chats/"+args[0]+"/messages", body, &m); err != nil {
		fatal(err)
	}
	fmt.Printf("queued %s\n", m.ClientID)
}

func cmdEdit(ctx context.Context, c *ctl.Client, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: courierctl edit <message-id> <text...>")
		os.Exit(1)
	}
	body := map[string]string{"text": strings.Join(args[1:], " ")}
	if err := c.Patch(ctx, "/v1/messages/"+args[0], body, nil); err != nil {
		fatal(err)
	}
	fmt.Println("ok")
}

func cmdPin(ctx context.Context, c *ctl.Client, pinned bool, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: courierctl pin|unpin <message-id>")
		os.Exit(1)
	}
	if err := c.Patch(ctx, "/v1/messages/"+args[0]+"/pin", map[string]bool{"pinned": pinned}, nil); err != nil {
		fatal(err)
	}
	fmt.Println("ok")
}

func cmdDeleteForEveryone(ctx context.Context, c *ctl.Client, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: courierctl delete <chat-id> <message-id...>")
		os.Exit(1)
	}
	body := map[string]any{"chatId": args[0], "messageIds": args[1:]}
	if err := c.Post(ctx, "/v1/messages/delete-for-everyone", body, nil); err != nil {
		fatal(err)
	}
	fmt.Println("ok")
}

func cmdDeleteForMe(ctx context.Context, c *ctl.Client, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: courierctl delete-for-me <message-id...>")
		os.Exit(1)
	}
	body := map[string]any{"messageIds": args}
	if err := c.Post(ctx, "/v1/messages/delete-for-me", body, nil); err != nil {
		fatal(err)
	}
	fmt.Println("ok")
}

func cmdDeleteChat(ctx context.Context, c *ctl.Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: courierctl delete-chat <chat-id>")
		os.Exit(1)
	}
	if err := c.Delete(ctx, "/v1/chats/"+args[0]); err != nil {
		fatal(err)
	}
	fmt.Println("ok")
}

// cmdWatch streams events until interrupted. No timeout on this context.
func cmdWatch(c *ctl.Client) {
	body, err := c.Stream(context.Background(), "/v1/events")
	if err != nil {
		fatal(err)
	}
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			fmt.Println(line)
		}
	}
}
