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
	"reflect"
	"testing"

	"github.com/Nehonix-Team/XyPriss/tools/xypriss-forkd-go/internal/ipc"
)

func TestExtractBatchRespectsCeiling(t *testing.T) {
	m := newTestManager(t)
	m.SetMaxWorkPerChild(3, "b")
	m.AddWork([]any{"1", "2", "3", "4", "5", "6", "7"}, "", "b", false)

	m.mu.Lock()
	b := m.bucketLocked("b")
	var batches [][]any
	for {
		order, _, ok := m.extractBatchLocked(b)
		if !ok {
			break
		}
		batches = append(batches, order.Items)
	}
	m.mu.Unlock()

	want := [][]any{{"1", "2", "3"}, {"4", "5", "6"}, {"7"}}
	if !reflect.DeepEqual(batches, want) {
		t.Fatalf("batches = %v, want %v", batches, want)
	}
}

func TestExtractBatchSingleItem(t *testing.T) {
	m := newTestManager(t)
	m.SetChildSingleWorkItem(true, "b")
	m.AddWork([]any{"work-A"}, "A", "b", false)
	m.AddWork([]any{"work-B"}, "B", "b", false)

	m.mu.Lock()
	b := m.bucketLocked("b")
	first, _, ok1 := m.extractBatchLocked(b)
	second, _, ok2 := m.extractBatchLocked(b)
	_, _, ok3 := m.extractBatchLocked(b)
	m.mu.Unlock()

	if !ok1 || !ok2 || ok3 {
		t.Fatalf("extraction flags = %v %v %v", ok1, ok2, ok3)
	}
	if first.Identifier != "A" || len(first.Items) != 1 || first.Items[0] != "work-A" {
		t.Fatalf("first order = %+v", first)
	}
	if second.Identifier != "B" || second.Items[0] != "work-B" {
		t.Fatalf("second order = %+v", second)
	}
}

func TestExtractBatchPersistent(t *testing.T) {
	m := newTestManager(t)
	m.SetChildPersistentMode(true, "b")
	m.SetChildPersistentModeData(map[string]any{"cfg": 1}, "b")

	m.mu.Lock()
	b := m.bucketLocked("b")
	order, taken, ok := m.extractBatchLocked(b)
	m.mu.Unlock()

	if !ok {
		t.Fatal("persistent bucket must always produce an order")
	}
	if order.Kind != ipc.OrderPersistent || taken != nil {
		t.Fatalf("order = %+v taken = %v", order, taken)
	}
	if order.Identifier != "" {
		t.Fatalf("persistent identifier = %q, want empty", order.Identifier)
	}
	data, ok := order.Data.(map[string]any)
	if !ok || data["cfg"] != 1 {
		t.Fatalf("data = %#v", order.Data)
	}
}

func TestRequeuePreservesHeadOrder(t *testing.T) {
	m := newTestManager(t)
	m.SetMaxWorkPerChild(2, "b")
	m.AddWork([]any{"1", "2", "3"}, "", "b", false)

	m.mu.Lock()
	b := m.bucketLocked("b")
	_, taken, _ := m.extractBatchLocked(b)
	m.requeueLocked(b, taken)
	m.mu.Unlock()

	sets := m.WorkSets("b")
	var items []any
	for _, ws := range sets {
		items = append(items, ws.Items...)
	}
	want := []any{"1", "2", "3"}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("queue after requeue = %v, want %v", items, want)
	}
}

func TestDispatchDisabledBucket(t *testing.T) {
	m := newTestManager(t)
	m.SetMaxChildren(0, "b")
	m.AddWork([]any{"1"}, "", "b", false)

	if m.dispatch("b") {
		t.Fatal("dispatch must not fork for a zero-budget bucket")
	}
	if got := m.WorkSetsCount("b", false); got != 1 {
		t.Fatalf("queued = %d, want untouched queue", got)
	}
}

func TestHelperSpawnUnknownFunction(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.HelperProcessSpawn("nope", nil, "h", false); err == nil {
		t.Fatal("expected an error for an unregistered helper")
	}
}
