package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/loykin/appsupervisor/internal/process"
)

// runLifecycleHooks executes every hook configured for phase, in order,
// honoring each hook's FailureMode. Grounded on the teacher's
// internal/manager/managed_process.go executeLifecycleHooks/executeHook:
// same sh -c invocation, same PROVISR_*-style environment injection
// (renamed to this domain), same ignore/retry-once/fail semantics.
func runLifecycleHooks(name string, hooks process.LifecycleHooks, phase process.LifecyclePhase, workDir string, env []string) error {
	list := hooks.GetHooksForPhase(phase)
	if len(list) == 0 {
		return nil
	}
	for _, hook := range list {
		hook.GetDefaults()
		if err := runHook(name, hook, phase, workDir, env); err != nil {
			switch hook.FailureMode {
			case process.FailureModeIgnore:
				slog.Warn("lifecycle hook failed, ignoring", "app", name, "phase", phase.String(), "hook", hook.Name, "err", err)
				continue
			case process.FailureModeRetry:
				slog.Warn("lifecycle hook failed, retrying once", "app", name, "phase", phase.String(), "hook", hook.Name, "err", err)
				time.Sleep(time.Second)
				if retryErr := runHook(name, hook, phase, workDir, env); retryErr != nil {
					return fmt.Errorf("hook %q failed after retry: %w", hook.Name, retryErr)
				}
			default:
				return fmt.Errorf("hook %q failed: %w", hook.Name, err)
			}
		}
	}
	return nil
}

// runHook runs a single hook, blocking unless RunModeAsync.
func runHook(appName string, hook process.Hook, phase process.LifecyclePhase, workDir string, appEnv []string) error {
	ctx := context.Background()
	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}

	// #nosec G204 -- hook.Command comes from the installed-apps config tree,
	// the same trust boundary as the app's own Command.
	cmd := exec.CommandContext(ctx, "sh", "-c", hook.Command)
	if hook.WorkDir != "" {
		cmd.Dir = hook.WorkDir
	} else {
		cmd.Dir = workDir
	}

	env := append([]string(nil), appEnv...)
	env = append(env, hook.Env...)
	env = append(env,
		fmt.Sprintf("APPSUPERVISOR_APP_NAME=%s", appName),
		fmt.Sprintf("APPSUPERVISOR_HOOK_NAME=%s", hook.Name),
		fmt.Sprintf("APPSUPERVISOR_HOOK_PHASE=%s", phase.String()),
	)
	cmd.Env = env

	if hook.RunMode == process.RunModeAsync {
		return cmd.Start()
	}
	return cmd.Run()
}
