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

package forkd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Nehonix-Team/XyPriss/tools/xypriss-forkd-go/internal/ipc"
)

// childMain is the whole life of a spawned child: install signal hooks, read
// the work order from the inherited channel, run the callback, send back the
// result if there is one, and exit 0. Never returns.
func (m *ForkManager) childMain() {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go m.childSignals(sigCh)

	msg, err := m.childChannel.Receive()
	if err != nil {
		m.logf(SeverityCrit, "child %d: no work order: %v", os.Getpid(), err)
		m.exitFn(0)
		return
	}
	var order ipc.WorkOrder
	if err := msg.Decode(&order); err != nil {
		m.logf(SeverityCrit, "child %d: malformed work order: %v", os.Getpid(), err)
		m.exitFn(0)
		return
	}
	m.mu.Lock()
	m.childBucket = order.Bucket
	m.mu.Unlock()

	switch order.Kind {
	case ipc.OrderHelper:
		m.mu.Lock()
		fn := m.helpers[order.Function]
		m.mu.Unlock()
		if fn == nil {
			m.missingRequired("helper "+order.Function, order.Bucket)
		} else {
			fn(order.Args)
		}

	case ipc.OrderWork, ipc.OrderPersistent:
		m.mu.Lock()
		fn := m.bucketLocked(order.Bucket).callbacks.childRun
		m.mu.Unlock()
		if fn == nil {
			m.missingRequired("child_run", order.Bucket)
			break
		}
		items := order.Items
		if order.Kind == ipc.OrderPersistent {
			items = []any{order.Data}
		}
		if ret := fn(items, order.Identifier); ret != nil {
			if err := m.ChildSendResultToParent(ret); err != nil {
				m.logf(SeverityCrit, "child %d: result send failed: %v", os.Getpid(), err)
			}
		}
	}

	m.childChannel.Close()
	m.exitFn(0)
}

// childSignals handles the child's half of the process-control surface:
// hangup runs the bucket's sighup callback, interrupt and terminate run the
// exit callback and terminate the child.
func (m *ForkManager) childSignals(sigCh <-chan os.Signal) {
	for sig := range sigCh {
		m.mu.Lock()
		cbs := m.bucketLocked(m.childBucket).callbacks
		bucket := m.childBucket
		m.mu.Unlock()

		switch sig {
		case syscall.SIGHUP:
			if cbs.childSighup != nil {
				cbs.childSighup(bucket)
			}
		default:
			if cbs.childExit != nil {
				cbs.childExit(bucket)
			}
			m.exitFn(exitCodeInterrupted)
		}
	}
}

// ChildSendResultToParent sends one result frame up the channel. The value
// must survive the channel codec. Only valid in a child process.
func (m *ForkManager) ChildSendResultToParent(value any) error {
	if m.role != RoleChild {
		return errors.New("forkd: ChildSendResultToParent called in the parent")
	}
	msg, err := ipc.NewMessage(ipc.MsgTypeResult, ipc.Result{Value: value})
	if err != nil {
		return err
	}
	return m.childChannel.Send(msg)
}

// ChildBucketGet returns the bucket this child serves.
func (m *ForkManager) ChildBucketGet() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.childBucket
}
