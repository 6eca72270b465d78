package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ScriptExecutor implements stage transforms as executable scripts. A stage
// named "parse" is hosted when <dir>/parse exists and is executable; it reads
// the input on stdin and writes the output to stdout. A non-zero exit status
// fails the transform.
type ScriptExecutor struct {
	dir    string
	logger *logrus.Entry
}

// NewScriptExecutor instantiates a ScriptExecutor over a scripts directory.
func NewScriptExecutor(dir string, logger *logrus.Entry) *ScriptExecutor {
	return &ScriptExecutor{
		dir:    dir,
		logger: logger.WithField("component", "exec"),
	}
}

func (x *ScriptExecutor) scriptPath(stage string) string {
	return filepath.Join(x.dir, stage)
}

// Hosts implements the Executor interface.
func (x *ScriptExecutor) Hosts(stage string) bool {
	info, err := os.Stat(x.scriptPath(stage))
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

// Transform implements the Executor interface.
func (x *ScriptExecutor) Transform(ctx context.Context, stage string, input []byte) ([]byte, error) {
	if !x.Hosts(stage) {
		return nil, fmt.Errorf("stage %s not hosted in %s", stage, x.dir)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultStageTimeout)
	defer cancel()

	cmd := osexec.CommandContext(ctx, x.scriptPath(stage))
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		x.logger.WithFields(logrus.Fields{
			"stage":  stage,
			"stderr": stderr.String(),
		}).WithError(err).Error("Stage script failed")
		return nil, fmt.Errorf("stage %s: %v", stage, err)
	}

	return stdout.Bytes(), nil
}
