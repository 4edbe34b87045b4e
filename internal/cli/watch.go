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
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nehonix-Team/XyPriss/tools/xypriss-forkd-go/forkd"
	"github.com/Nehonix-Team/XyPriss/tools/xypriss-forkd-go/internal/watcher"
)

var (
	watchWorkers int
	watchExec    string
	watchDelete  bool
)

const watchBucket = "spool"

var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Dispatch a child for every file dropped into a spool directory",
	Long: `Watches a directory and queues every created file as one identified work
item. Each file is handed to its own child, which runs the --exec template
with the file path substituted for {}.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := buildWatchManager()

		if forkd.IsChild() {
			return mgr.ProcessWork(true, watchBucket, false)
		}

		dir := args[0]
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("%s is not a watchable directory", dir)
		}

		w, err := watcher.NewSpoolWatcher()
		if err != nil {
			return err
		}
		defer w.Close()

		err = w.Watch(dir, func(path string) {
			if err := mgr.AddWork([]any{path}, path, watchBucket, false); err != nil {
				log.Printf("[xforkd] queue %s: %v", path, err)
			}
		})
		if err != nil {
			return err
		}

		log.Printf("[xforkd] watching %s (workers=%d)", dir, watchWorkers)
		for !mgr.ReceivedExitRequest() {
			if err := mgr.ProcessWork(false, watchBucket, false); err != nil {
				return err
			}
			time.Sleep(500 * time.Millisecond)
		}
		return nil
	},
}

func buildWatchManager() *forkd.ForkManager {
	mgr := forkd.New()
	mgr.SetMaxChildren(watchWorkers, watchBucket)
	mgr.SetChildSingleWorkItem(true, watchBucket)
	mgr.SetHousekeepingCheckInterval(2 * time.Second)

	mgr.RegisterChildRun(func(items []any, identifier string) any {
		path := fmt.Sprint(items[0])
		command := strings.ReplaceAll(watchExec, "{}", path)
		c := exec.Command("sh", "-c", command)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			log.Printf("[xforkd] %s: %v", path, err)
			return nil
		}
		if watchDelete {
			_ = os.Remove(path)
		}
		return nil
	}, watchBucket)

	mgr.RegisterParentChildExit(func(pid int, ident string) {
		if verbose {
			log.Printf("[xforkd] finished %s (pid %d)", ident, pid)
		}
	}, watchBucket)
	return mgr
}

func init() {
	watchCmd.Flags().IntVarP(&watchWorkers, "workers", "w", 4, "Maximum concurrent children")
	watchCmd.Flags().StringVar(&watchExec, "exec", "cat {}", "Command template run per file ({} = path)")
	watchCmd.Flags().BoolVar(&watchDelete, "delete", false, "Remove the file after a successful run")

	rootCmd.AddCommand(watchCmd)
}
