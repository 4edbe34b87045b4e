/* *****************************************************************************
 * Nehonix XyPriss System CLI
 *
 * ACCESS RESTRICTIONS:
 * - This software is exclusively for use by Authorized Personnel of NEHONIX
 * - Intended for Internal Use only within NEHONIX operations
 * - No rights granted to unauthorized individuals or entities
 * - All modifications are works made for hire assigned to NEHONIX
 *
 * PROHIBITED ACTIVITIES:
 * - Copying, distributing, or sublicensing without written permission
 * - Reverse engineering, decompiling, or disassembling
 * - Creating derivative works without explicit authorization
 * - External use or commercial distribution outside NEHONIX
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 * For questions or permissions, contact:
 * NEHONIX Legal Department
 * Email: legal@nehonix.com
 * Website: www.nehonix.com
 ***************************************************************************** */

package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Nehonix-Team/XyPriss/tools/xypriss-forkd-go/forkd"
)

var (
	runWorkers      int
	runBatch        int
	runBucket       string
	runSingle       bool
	runMaxRunTime   int
	runMaxMemory    int
	runStoreResults bool
	runFromFile     string
	runPersistent   bool
	runPersistData  string
)

var runCmd = &cobra.Command{
	Use:   "run [command...]",
	Short: "Dispatch shell commands over a pool of child processes",
	Long: `Queues each argument (or each line of --from) as one shell command and
dispatches them in batches to forked children. Blocks until the queue drains.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := buildRunManager()

		// In a spawned child the same command line runs again; ProcessWork
		// branches into the child loop and never returns.
		if forkd.IsChild() {
			return mgr.ProcessWork(true, runBucket, false)
		}

		if runPersistent {
			return runPersistentPool(mgr, args)
		}

		commands, err := collectCommands(args)
		if err != nil {
			return err
		}
		if len(commands) == 0 {
			return fmt.Errorf("nothing to run: pass commands as arguments or via --from")
		}

		for _, c := range commands {
			if runSingle {
				if err := mgr.AddWork([]any{c}, c, runBucket, false); err != nil {
					return err
				}
			} else {
				if err := mgr.AddWork([]any{c}, "", runBucket, false); err != nil {
					return err
				}
			}
		}

		start := time.Now()
		if err := mgr.ProcessWork(true, runBucket, false); err != nil {
			return err
		}

		if runStoreResults {
			printResults(mgr)
		}
		if !quiet {
			stats := mgr.Stats(runBucket)
			color.New(color.FgGreen).Printf("Dispatched %d commands across %d children in %s\n",
				len(commands), stats.Count, time.Since(start).Round(time.Millisecond))
		}
		return nil
	},
}

// buildRunManager wires the supervisor the same way in parent and child, so
// callbacks resolve identically on both sides of the exec boundary.
func buildRunManager() *forkd.ForkManager {
	mgr := forkd.New()
	mgr.SetMaxChildren(runWorkers, runBucket)
	mgr.SetMaxWorkPerChild(runBatch, runBucket)
	mgr.SetChildMaxRunTime(runMaxRunTime, runBucket)
	mgr.SetChildSingleWorkItem(runSingle, runBucket)
	mgr.SetMaxChildMemory(runMaxMemory, runBucket)
	mgr.SetStoreResult(runStoreResults)
	mgr.SetHousekeepingCheckInterval(2 * time.Second)

	if verbose {
		mgr.RegisterLogging(func(sev forkd.Severity, msg string) {
			log.Printf("[xforkd][%s] %s", sev, msg)
		}, forkd.SeverityDebug)
	}

	mgr.RegisterChildRun(runShellBatch, runBucket)
	mgr.RegisterChildTimeout(func(pid int, ident string) {
		log.Printf("[xforkd] child %d timed out (identifier %q)", pid, ident)
	}, runBucket)
	return mgr
}

// runShellBatch executes each queued command inside a child. With
// --store-results it reports the per-command exit codes back to the parent;
// otherwise it sends no result.
func runShellBatch(items []any, identifier string) any {
	codes := make(map[string]int, len(items))
	for _, item := range items {
		command := fmt.Sprint(item)
		c := exec.Command("sh", "-c", command)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		code := 0
		if err := c.Run(); err != nil {
			code = -1
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
		}
		codes[command] = code
	}
	if !runStoreResults {
		return nil
	}
	return codes
}

// runPersistentPool keeps --workers children alive on the bucket, each
// invoked with the persistent payload, until an interrupt arrives.
func runPersistentPool(mgr *forkd.ForkManager, args []string) error {
	if len(args) == 0 && runPersistData == "" {
		return fmt.Errorf("persistent mode needs a command argument or --persistent-data")
	}

	var payload any
	if runPersistData != "" {
		if err := json.Unmarshal([]byte(runPersistData), &payload); err != nil {
			payload = runPersistData
		}
	} else {
		payload = args[0]
	}
	mgr.SetChildPersistentMode(true, runBucket)
	mgr.SetChildPersistentModeData(payload, runBucket)

	log.Printf("[xforkd] keeping %d persistent children on bucket %s", runWorkers, runBucket)
	for !mgr.ReceivedExitRequest() {
		if err := mgr.ProcessWork(false, runBucket, false); err != nil {
			return err
		}
		time.Sleep(time.Second)
	}
	return nil
}

func collectCommands(args []string) ([]string, error) {
	commands := append([]string{}, args...)
	if runFromFile == "" {
		return commands, nil
	}

	f, err := os.Open(runFromFile)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", runFromFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			commands = append(commands, line)
		}
	}
	return commands, scanner.Err()
}

func printResults(mgr *forkd.ForkManager) {
	for _, res := range mgr.GetAllResults(runBucket) {
		fmt.Printf("%v\n", res)
	}
}

func init() {
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 4, "Maximum concurrent children")
	runCmd.Flags().IntVarP(&runBatch, "batch", "b", 1, "Commands handed to each child")
	runCmd.Flags().StringVar(&runBucket, "bucket", forkd.DefaultBucket, "Bucket to queue into")
	runCmd.Flags().BoolVar(&runSingle, "single", false, "One identified command per child")
	runCmd.Flags().IntVar(&runMaxRunTime, "max-run-time", 3600, "Per-child run limit in seconds (-1 = unlimited)")
	runCmd.Flags().IntVar(&runMaxMemory, "max-memory", 0, "Per-child RSS limit in MB (0 = off)")
	runCmd.Flags().BoolVar(&runStoreResults, "store-results", false, "Collect and print per-command exit codes")
	runCmd.Flags().StringVar(&runFromFile, "from", "", "Read commands from a file, one per line")
	runCmd.Flags().BoolVar(&runPersistent, "persistent", false, "Keep --workers children alive, each re-invoked with the persistent payload")
	runCmd.Flags().StringVar(&runPersistData, "persistent-data", "", "Payload handed to every persistent child (JSON value or raw string; defaults to the command argument)")

	rootCmd.AddCommand(runCmd)
}
