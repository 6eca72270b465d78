package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serviceAddr  string
	pollInterval time.Duration
	pollTimeout  time.Duration
)

//NewSubmitCmd returns the command that submits a task to a running node and
//waits for the outcome
func NewSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <task_id> [input]",
		Short: "Submit a task and wait for its consensus record",
		Long: `Submit posts the input payload to a running node's HTTP service and polls
until the task reaches a terminal phase. The input is read from the second
argument, or from stdin when omitted.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: submit,
	}

	cmd.Flags().StringVarP(&serviceAddr, "service-listen", "s", _config.ServiceAddr, "IP:Port of the node's HTTP service")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 500*time.Millisecond, "Time between status polls")
	cmd.Flags().DurationVar(&pollTimeout, "poll-timeout", 5*time.Minute, "Give up after this long")

	return cmd
}

func submit(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	var payload []byte
	var err error
	if len(args) == 2 {
		payload = []byte(args[1])
	} else {
		payload, err = ioutil.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading input from stdin: %s", err)
		}
	}

	submitURL := fmt.Sprintf("http://%s/submit/%s", serviceAddr, taskID)

	resp, err := http.Post(submitURL, "application/octet-stream", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(resp.Body)
		return fmt.Errorf("submit failed: %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var ack map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return err
	}

	fmt.Printf("Submitted task %s, genesis event %s\n", ack["task_id"], ack["digest"])

	return poll(taskID)
}

// poll queries the task endpoint until the task is finalized or stalled, then
// prints the full task view.
func poll(taskID string) error {
	taskURL := fmt.Sprintf("http://%s/task/%s", serviceAddr, taskID)

	deadline := time.Now().Add(pollTimeout)

	for {
		resp, err := http.Get(taskURL)
		if err != nil {
			return err
		}

		var info struct {
			Phase  string          `json:"phase"`
			Record json.RawMessage `json:"record"`
		}
		err = json.NewDecoder(resp.Body).Decode(&info)
		resp.Body.Close()
		if err != nil {
			return err
		}

		switch info.Phase {
		case "Finalized":
			fmt.Printf("Task %s finalized\n", taskID)
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, info.Record, "", "  "); err != nil {
				return err
			}
			fmt.Println(pretty.String())
			return nil
		case "Stalled":
			return fmt.Errorf("task %s stalled without reaching quorum", taskID)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("task %s still %s after %v", taskID, info.Phase, pollTimeout)
		}

		time.Sleep(pollInterval)
	}
}
