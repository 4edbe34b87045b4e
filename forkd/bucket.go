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
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// DefaultBucket is the implicit bucket every manager starts with. Buckets
// created later clone its knobs and callbacks at the instant of creation.
const DefaultBucket = "default"

// Default knob values for the implicit bucket.
const (
	defaultMaxChildren     = 25
	defaultMaxWorkPerChild = 100
	defaultChildMaxRunTime = 86400
)

// WorkSet is one queued unit of dispatch: the items handed to a single child
// plus the identifier they were queued under (empty outside single-item mode).
type WorkSet struct {
	Identifier string
	Items      []any
}

// Bucket is a named partition of work with its own queue and per-child policy.
type Bucket struct {
	name string

	maxChildren      int
	maxWorkPerChild  int
	childMaxRunTime  int // seconds; -1 means unlimited
	singleWorkItem   bool
	persistentMode   bool
	persistentData   any
	maxChildMemoryMB int

	queue     []WorkSet
	results   []any
	callbacks bucketCallbacks
}

// bucketLocked returns the named bucket, creating it as a clone of the
// default bucket if missing. Caller holds m.mu.
func (m *ForkManager) bucketLocked(name string) *Bucket {
	if name == "" {
		name = DefaultBucket
	}
	if b, ok := m.buckets[name]; ok {
		return b
	}
	def := m.buckets[DefaultBucket]
	b := &Bucket{
		name:             name,
		maxChildren:      def.maxChildren,
		maxWorkPerChild:  def.maxWorkPerChild,
		childMaxRunTime:  def.childMaxRunTime,
		singleWorkItem:   def.singleWorkItem,
		persistentMode:   def.persistentMode,
		persistentData:   def.persistentData,
		maxChildMemoryMB: def.maxChildMemoryMB,
		callbacks:        def.callbacks,
	}
	m.buckets[name] = b
	m.bucketOrder = append(m.bucketOrder, name)
	return b
}

// AddBucket creates a bucket explicitly. Returns false if it already exists.
func (m *ForkManager) AddBucket(name string) bool {
	if name == "" || name == DefaultBucket {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; ok {
		return false
	}
	m.bucketLocked(name)
	return true
}

// BucketExists reports whether the bucket has been created.
func (m *ForkManager) BucketExists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[name]
	return ok
}

// BucketList returns the known bucket names in creation order.
func (m *ForkManager) BucketList(includeDefault bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]string, 0, len(m.bucketOrder))
	for _, name := range m.bucketOrder {
		if name == DefaultBucket && !includeDefault {
			continue
		}
		list = append(list, name)
	}
	return list
}

// AddWork queues work on a bucket, creating the bucket on demand. In
// single-item mode the whole call is one identified work set; re-adding an
// identifier replaces the queued set in place. Otherwise each item becomes
// its own queue entry and identifier is ignored.
func (m *ForkManager) AddWork(items []any, identifier, bucket string, sortQueue bool) error {
	if m.role != RoleParent {
		return fmt.Errorf("forkd: AddWork called from a child process")
	}
	if len(items) == 0 {
		return fmt.Errorf("forkd: AddWork called with no items")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucketLocked(bucket)

	if b.singleWorkItem {
		if identifier == "" {
			identifier = uuid.NewString()
		}
		replaced := false
		for i := range b.queue {
			if b.queue[i].Identifier == identifier {
				b.queue[i].Items = items
				replaced = true
				break
			}
		}
		if !replaced {
			b.queue = append(b.queue, WorkSet{Identifier: identifier, Items: items})
		}
	} else {
		for _, item := range items {
			b.queue = append(b.queue, WorkSet{Items: []any{item}})
		}
	}

	if sortQueue {
		sortWorkQueue(b)
	}
	return nil
}

func sortWorkQueue(b *Bucket) {
	if b.singleWorkItem {
		sort.SliceStable(b.queue, func(i, j int) bool {
			return b.queue[i].Identifier < b.queue[j].Identifier
		})
		return
	}
	sort.SliceStable(b.queue, func(i, j int) bool {
		return fmt.Sprint(b.queue[i].Items[0]) < fmt.Sprint(b.queue[j].Items[0])
	})
}

// WorkSets returns a copy of the bucket's queued work.
func (m *ForkManager) WorkSets(bucket string) []WorkSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucketLocked(bucket)
	out := make([]WorkSet, len(b.queue))
	copy(out, b.queue)
	return out
}

// WorkSetsCount returns the number of queued work sets in the bucket, or
// across every bucket when all is set.
func (m *ForkManager) WorkSetsCount(bucket string, all bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if all {
		n := 0
		for _, b := range m.buckets {
			n += len(b.queue)
		}
		return n
	}
	return len(m.bucketLocked(bucket).queue)
}

// SetMaxChildren sets the bucket's child budget. Zero disables dispatch for
// the bucket while still accepting work. Lowering the budget under persistent
// mode asks the surplus workers to exit.
func (m *ForkManager) SetMaxChildren(n int, bucket string) {
	if n < 0 {
		m.logf(SeverityWarn, "max_children %d clamped to 0 for bucket %s", n, bucket)
		n = 0
	}

	var surplus []int
	m.mu.Lock()
	b := m.bucketLocked(bucket)
	old := b.maxChildren
	b.maxChildren = n
	if b.persistentMode && n < old {
		excess := old - n
		for pid, rec := range m.children {
			if excess == 0 {
				break
			}
			if rec.Bucket == b.name && rec.Status == ChildWorker {
				surplus = append(surplus, pid)
				excess--
			}
		}
	}
	m.mu.Unlock()

	for _, pid := range surplus {
		m.logf(SeverityInfo, "asking persistent worker %d to exit after max_children drop", pid)
		m.safeKill(pid, sigInterrupt)
	}
}

// MaxChildren returns the bucket's child budget.
func (m *ForkManager) MaxChildren(bucket string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucketLocked(bucket).maxChildren
}

// SetMaxWorkPerChild sets the batch ceiling for the bucket. Forced to 1 under
// single-item mode.
func (m *ForkManager) SetMaxWorkPerChild(n int, bucket string) {
	if n < 1 {
		m.logf(SeverityWarn, "max_work_per_child %d clamped to 1 for bucket %s", n, bucket)
		n = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucketLocked(bucket)
	if b.singleWorkItem && n != 1 {
		m.logf(SeverityWarn, "max_work_per_child forced to 1 for single-item bucket %s", bucket)
		n = 1
	}
	b.maxWorkPerChild = n
}

// MaxWorkPerChild returns the bucket's batch ceiling.
func (m *ForkManager) MaxWorkPerChild(bucket string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucketLocked(bucket).maxWorkPerChild
}

// SetChildMaxRunTime sets the wall-clock run limit in seconds. -1 disables
// the limit; 0 is an immediate deadline, honored on the next housekeeping
// pass.
func (m *ForkManager) SetChildMaxRunTime(seconds int, bucket string) {
	if seconds < -1 {
		m.logf(SeverityWarn, "child_max_run_time %d clamped to -1 for bucket %s", seconds, bucket)
		seconds = -1
	}
	if seconds == 0 {
		m.logf(SeverityWarn, "child_max_run_time 0 for bucket %s: children are killed on the next housekeeping pass", bucket)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket).childMaxRunTime = seconds
}

// ChildMaxRunTime returns the bucket's run limit in seconds.
func (m *ForkManager) ChildMaxRunTime(bucket string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucketLocked(bucket).childMaxRunTime
}

// SetChildSingleWorkItem toggles single-item dispatch. Enabling it forces the
// batch ceiling to 1.
func (m *ForkManager) SetChildSingleWorkItem(on bool, bucket string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucketLocked(bucket)
	b.singleWorkItem = on
	if on {
		b.maxWorkPerChild = 1
	}
}

// ChildSingleWorkItem reports whether the bucket dispatches one identified
// item per child.
func (m *ForkManager) ChildSingleWorkItem(bucket string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucketLocked(bucket).singleWorkItem
}

// SetChildPersistentMode toggles persistent mode: the bucket keeps
// max_children workers alive regardless of queue depth, each re-invoked with
// the bucket's persistent payload.
func (m *ForkManager) SetChildPersistentMode(on bool, bucket string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket).persistentMode = on
}

// ChildPersistentMode reports whether the bucket runs in persistent mode.
func (m *ForkManager) ChildPersistentMode(bucket string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucketLocked(bucket).persistentMode
}

// SetChildPersistentModeData sets the payload handed to every persistent
// worker of the bucket. The value must survive the channel codec.
func (m *ForkManager) SetChildPersistentModeData(data any, bucket string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket).persistentData = data
}

// ChildPersistentModeData returns the bucket's persistent payload.
func (m *ForkManager) ChildPersistentModeData(bucket string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucketLocked(bucket).persistentData
}

// SetMaxChildMemory sets an RSS ceiling in MB for the bucket's children,
// enforced during housekeeping. Zero disables the check.
func (m *ForkManager) SetMaxChildMemory(mb int, bucket string) {
	if mb < 0 {
		m.logf(SeverityWarn, "max_child_memory %d clamped to 0 for bucket %s", mb, bucket)
		mb = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(bucket).maxChildMemoryMB = mb
}

// MaxChildMemory returns the bucket's RSS ceiling in MB.
func (m *ForkManager) MaxChildMemory(bucket string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucketLocked(bucket).maxChildMemoryMB
}
