package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/jobscout/internal/stream"
	"golang.org/x/term"
)

func newChatCmd() *cobra.Command {
	var (
		server    string
		user      string
		sessionID string
		cvPath    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running Jobscout server from the terminal",
		Long: `Opens a conversation with a Jobscout server started by "scout serve".

Type a message and press enter. Use "/upload <file.pdf>" to send your CV and
"/quit" to leave. When the assistant asks for approval, answer y or n.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &chatClient{
				base:      strings.TrimRight(server, "/"),
				user:      user,
				sessionID: sessionID,
				http:      http.DefaultClient,
				out:       cmd.OutOrStdout(),
			}
			return c.loop(cmd.Context(), cmd.InOrStdin(), cvPath)
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "http://localhost:8080", "Jobscout server URL")
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id sent as X-User-ID")
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	cmd.Flags().StringVar(&cvPath, "cv", "", "upload this PDF before chatting")
	return cmd
}

// chatClient drives the streaming chat endpoints.
type chatClient struct {
	base      string
	user      string
	sessionID string
	http      *http.Client
	out       io.Writer
}

// outcome is how a streamed run ended.
type outcome struct {
	terminal string // done, confirmation, error; empty if the stream broke off
	message  string
}

func (c *chatClient) loop(ctx context.Context, in io.Reader, cvPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	interactive := isTerminal(in)
	lines := bufio.NewScanner(in)

	if cvPath != "" {
		if err := c.runUpload(ctx, lines, interactive, cvPath); err != nil {
			return err
		}
	}

	for {
		if interactive {
			fmt.Fprint(c.out, "> ")
		}
		if !lines.Scan() {
			return lines.Err()
		}
		text := strings.TrimSpace(lines.Text())
		switch {
		case text == "":
			continue
		case text == "/quit" || text == "/exit":
			return nil
		case strings.HasPrefix(text, "/upload "):
			if err := c.runUpload(ctx, lines, interactive, strings.TrimSpace(strings.TrimPrefix(text, "/upload "))); err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			continue
		}

		res, err := c.post(ctx, "/api/chat/stream", map[string]any{"session_id": c.sessionID, "message": text})
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			continue
		}
		if err := c.settle(ctx, lines, interactive, res); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func (c *chatClient) runUpload(ctx context.Context, lines *bufio.Scanner, interactive bool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if c.sessionID != "" {
		if err := mw.WriteField("session_id", c.sessionID); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	res, err := c.do(ctx, "/api/chat/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	return c.settle(ctx, lines, interactive, res)
}

// settle follows a run through any approvals until it is done or failed.
func (c *chatClient) settle(ctx context.Context, lines *bufio.Scanner, interactive bool, res outcome) error {
	for res.terminal == stream.EventConfirmation {
		approved := c.ask(lines, interactive, res.message)
		var err error
		res, err = c.post(ctx, "/api/chat/confirm", map[string]any{"session_id": c.sessionID, "approved": approved})
		if err != nil {
			return err
		}
	}
	if res.terminal == "" {
		return fmt.Errorf("stream ended before the run finished")
	}
	return nil
}

// ask prompts for an approval decision. Anything but y/yes declines.
func (c *chatClient) ask(lines *bufio.Scanner, interactive bool, message string) bool {
	fmt.Fprintf(c.out, "\n%s\n", message)
	if interactive {
		fmt.Fprint(c.out, "Approve? [y/N] ")
	}
	if !lines.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(lines.Text()))
	return answer == "y" || answer == "yes"
}

func (c *chatClient) post(ctx context.Context, path string, body any) (outcome, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return outcome{}, err
	}
	return c.do(ctx, path, "application/json", bytes.NewReader(data))
}

// do sends a request and renders the event stream it returns.
func (c *chatClient) do(ctx context.Context, path, contentType string, body io.Reader) (outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return outcome{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return outcome{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return outcome{}, fmt.Errorf("%s (HTTP %d)", e.Error, resp.StatusCode)
	}
	if sid := resp.Header.Get("X-Session-ID"); sid != "" {
		c.sessionID = sid
	}

	var res outcome
	err = stream.Read(resp.Body, func(f stream.Frame) error {
		res = c.render(f, res)
		return nil
	})
	return res, err
}

// doneFrame is the part of a done payload the client shows.
type doneFrame struct {
	SessionID string `json:"session_id"`
	Turn      struct {
		Content string `json:"content"`
	} `json:"turn"`
}

// render prints one frame and folds it into the outcome.
func (c *chatClient) render(f stream.Frame, res outcome) outcome {
	switch f.Event {
	case stream.EventStatus:
		var d stream.StatusData
		if json.Unmarshal([]byte(f.Data), &d) == nil {
			fmt.Fprintf(c.out, "… %s\n", d.Message)
		}
	case stream.EventAgent:
		var d stream.AgentData
		if json.Unmarshal([]byte(f.Data), &d) == nil {
			switch d.Type {
			case "delta":
				fmt.Fprint(c.out, d.Message)
				res.message += d.Message
			case "intent":
			default:
				fmt.Fprintf(c.out, "  %s\n", d.Message)
			}
		}
	case stream.EventConfirmation:
		var d stream.ConfirmationData
		if json.Unmarshal([]byte(f.Data), &d) == nil {
			res = outcome{terminal: f.Event, message: d.Message}
			if d.SessionID != "" {
				c.sessionID = d.SessionID
			}
		}
	case stream.EventDone:
		var d doneFrame
		if json.Unmarshal([]byte(f.Data), &d) == nil {
			streamed := res.message != ""
			res = outcome{terminal: f.Event, message: d.Turn.Content}
			if streamed {
				fmt.Fprintln(c.out)
			} else {
				fmt.Fprintf(c.out, "%s\n", d.Turn.Content)
			}
		}
	case stream.EventError:
		var d stream.ErrorData
		if json.Unmarshal([]byte(f.Data), &d) == nil {
			res = outcome{terminal: f.Event, message: d.Message}
			fmt.Fprintf(c.out, "! %s\n", d.Message)
		}
	}
	return res
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
