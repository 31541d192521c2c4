// Package client holds the cobra commands that talk to a running server over
// its HTTP API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// BaseURLFunc resolves the server base URL at execution time.
type BaseURLFunc func() string

func postJSON(base, path string, body any, out io.Writer) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(base+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp, out)
}

func getJSON(base, path string, query url.Values, out io.Writer) error {
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := http.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp, out)
}

func printResponse(resp *http.Response, out io.Writer) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		fmt.Fprintln(out, resp.Status)
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		_, werr := out.Write(body)
		return werr
	}
	fmt.Fprintln(out, pretty.String())
	return nil
}

// NewMessageCommand builds the "message" command group.
func NewMessageCommand(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{Use: "message", Short: "Conversation operations"}

	send := &cobra.Command{
		Use:   "send",
		Short: "Send a message and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			text, _ := cmd.Flags().GetString("text")
			if user == "" || text == "" {
				return fmt.Errorf("--user and --text are required")
			}
			return postJSON(baseURL(), "/v1/messages",
				map[string]string{"userId": user, "message": text}, cmd.OutOrStdout())
		},
	}
	send.Flags().String("user", "", "User id")
	send.Flags().String("text", "", "Message text")
	root.AddCommand(send)

	history := &cobra.Command{
		Use:   "history",
		Short: "Print conversation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			limit, _ := cmd.Flags().GetInt("limit")
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			q := url.Values{"userId": {user}}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			return getJSON(baseURL(), "/v1/messages", q, cmd.OutOrStdout())
		},
	}
	history.Flags().String("user", "", "User id")
	history.Flags().Int("limit", 0, "Max messages to return")
	root.AddCommand(history)

	return root
}

// NewTaskCommand builds the "task" command group.
func NewTaskCommand(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{Use: "task", Short: "Task queue operations"}

	enqueue := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			action, _ := cmd.Flags().GetString("action")
			payload, _ := cmd.Flags().GetString("payload")
			jobID, _ := cmd.Flags().GetString("job-id")
			priority, _ := cmd.Flags().GetString("priority")
			delayMs, _ := cmd.Flags().GetInt64("delay-ms")
			if queue == "" || action == "" {
				return fmt.Errorf("--queue and --action are required")
			}
			raw := json.RawMessage(payload)
			if payload != "" && !json.Valid(raw) {
				return fmt.Errorf("--payload must be valid JSON")
			}
			return postJSON(baseURL(), "/v1/tasks/enqueue", map[string]any{
				"queue":    queue,
				"action":   action,
				"payload":  raw,
				"jobId":    jobID,
				"priority": priority,
				"delayMs":  delayMs,
			}, cmd.OutOrStdout())
		},
	}
	enqueue.Flags().String("queue", "", "Queue name")
	enqueue.Flags().String("action", "", "Task action")
	enqueue.Flags().String("payload", "", "JSON payload")
	enqueue.Flags().String("job-id", "", "Idempotency key / task id")
	enqueue.Flags().String("priority", "", "Priority: high|medium|low")
	enqueue.Flags().Int64("delay-ms", 0, "Delay before the task becomes available")
	root.AddCommand(enqueue)

	get := &cobra.Command{
		Use:   "get",
		Short: "Print one task record",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			return getJSON(baseURL(), "/v1/tasks/get", url.Values{"id": {id}}, cmd.OutOrStdout())
		},
	}
	get.Flags().String("id", "", "Task id")
	root.AddCommand(get)

	return root
}

// NewWorkflowCommand builds the "workflow" command group.
func NewWorkflowCommand(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{Use: "workflow", Short: "Workflow operations"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(baseURL(), "/v1/workflows", nil, cmd.OutOrStdout())
		},
	}
	root.AddCommand(list)

	for _, verb := range []string{"pause", "resume"} {
		verb := verb
		c := &cobra.Command{
			Use:   verb,
			Short: "Change the current workflow instance state",
			RunE: func(cmd *cobra.Command, args []string) error {
				user, _ := cmd.Flags().GetString("user")
				if user == "" {
					return fmt.Errorf("--user is required")
				}
				return postJSON(baseURL(), "/v1/workflows/"+verb,
					map[string]string{"userId": user}, cmd.OutOrStdout())
			},
		}
		c.Flags().String("user", "", "User id")
		root.AddCommand(c)
	}

	return root
}
