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
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const XyForkdLogo = `
  __   __   _____          _      _ 
  \ \ / /  |  ___|__  _ __| | __ | |
   \ V /   | |_ / _ \| '__| |/ / / |
    | |    |  _| (_) | |  |   < |_ |
    |_|    |_|  \___/|_|  |_|\_\(_)|
`

const RestrictedWarning = `*******************************************************************************
* NEHONIX INTERNAL TOOL - RESTRICTED ACCESS                                     *
* This software is the exclusive property of NEHONIX operations.              *
* Unauthorized use, distribution, or analysis is strictly prohibited.         *
*******************************************************************************`

func PrintRestrictedWarning() {
	red := color.New(color.FgRed, color.Bold)
	cyan := color.New(color.FgCyan, color.Bold)

	cyan.Fprint(os.Stderr, XyForkdLogo)
	red.Fprintln(os.Stderr, RestrictedWarning)
}

var (
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:           "xforkd-go",
	Short:         "XyPriss Forking Work Dispatcher (Go Implementation)",
	Long:          `A forking work-dispatch supervisor: queues work into buckets and fans it out over batches of child processes.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	if len(os.Args) <= 1 {
		PrintRestrictedWarning()
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Silence non-essential output")
}
