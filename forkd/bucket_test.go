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
)

func newTestManager(t *testing.T) *ForkManager {
	t.Helper()
	m := New()
	if m.Role() != RoleParent {
		t.Fatal("test process unexpectedly started in the child role")
	}
	t.Cleanup(m.Close)
	return m
}

func TestBucketCloneFromDefault(t *testing.T) {
	m := newTestManager(t)

	m.SetMaxChildren(7, DefaultBucket)
	m.SetMaxWorkPerChild(3, DefaultBucket)
	m.SetChildMaxRunTime(120, DefaultBucket)

	if !m.AddBucket("uploads") {
		t.Fatal("AddBucket returned false")
	}
	if got := m.MaxChildren("uploads"); got != 7 {
		t.Fatalf("max_children = %d, want 7", got)
	}
	if got := m.MaxWorkPerChild("uploads"); got != 3 {
		t.Fatalf("max_work_per_child = %d, want 3", got)
	}
	if got := m.ChildMaxRunTime("uploads"); got != 120 {
		t.Fatalf("child_max_run_time = %d, want 120", got)
	}

	// Later edits to the default must not propagate.
	m.SetMaxChildren(1, DefaultBucket)
	if got := m.MaxChildren("uploads"); got != 7 {
		t.Fatalf("default edit leaked into clone: max_children = %d", got)
	}
}

func TestBucketAutoCreateOnAddWork(t *testing.T) {
	m := newTestManager(t)

	if m.BucketExists("lazy") {
		t.Fatal("bucket should not exist yet")
	}
	if err := m.AddWork([]any{"x"}, "", "lazy", false); err != nil {
		t.Fatalf("AddWork: %v", err)
	}
	if !m.BucketExists("lazy") {
		t.Fatal("AddWork should create the bucket")
	}
	if got := m.WorkSetsCount("lazy", false); got != 1 {
		t.Fatalf("queued = %d, want 1", got)
	}
}

func TestBucketListOrder(t *testing.T) {
	m := newTestManager(t)

	m.AddBucket("b")
	m.AddBucket("a")
	m.AddBucket("c")

	want := []string{"b", "a", "c"}
	if got := m.BucketList(false); !reflect.DeepEqual(got, want) {
		t.Fatalf("BucketList = %v, want %v", got, want)
	}
	withDefault := m.BucketList(true)
	if len(withDefault) != 4 || withDefault[0] != DefaultBucket {
		t.Fatalf("BucketList(true) = %v", withDefault)
	}
}

func TestKnobClamping(t *testing.T) {
	m := newTestManager(t)

	m.SetMaxChildren(-3, "b")
	if got := m.MaxChildren("b"); got != 0 {
		t.Fatalf("max_children = %d, want 0", got)
	}
	m.SetMaxWorkPerChild(0, "b")
	if got := m.MaxWorkPerChild("b"); got != 1 {
		t.Fatalf("max_work_per_child = %d, want 1", got)
	}
	m.SetChildMaxRunTime(-5, "b")
	if got := m.ChildMaxRunTime("b"); got != -1 {
		t.Fatalf("child_max_run_time = %d, want -1", got)
	}
	m.SetMaxChildMemory(-1, "b")
	if got := m.MaxChildMemory("b"); got != 0 {
		t.Fatalf("max_child_memory = %d, want 0", got)
	}
}

func TestSingleWorkItemForcesBatchOfOne(t *testing.T) {
	m := newTestManager(t)

	m.SetMaxWorkPerChild(10, "jobs")
	m.SetChildSingleWorkItem(true, "jobs")
	if got := m.MaxWorkPerChild("jobs"); got != 1 {
		t.Fatalf("max_work_per_child = %d, want 1 after enabling single-item", got)
	}
	m.SetMaxWorkPerChild(5, "jobs")
	if got := m.MaxWorkPerChild("jobs"); got != 1 {
		t.Fatalf("max_work_per_child = %d, want 1 while single-item", got)
	}
}

func TestAddWorkSingleReplacesInPlace(t *testing.T) {
	m := newTestManager(t)
	m.SetChildSingleWorkItem(true, "jobs")

	m.AddWork([]any{"first"}, "A", "jobs", false)
	m.AddWork([]any{"other"}, "B", "jobs", false)
	m.AddWork([]any{"second"}, "A", "jobs", false)

	sets := m.WorkSets("jobs")
	if len(sets) != 2 {
		t.Fatalf("queued %d sets, want 2", len(sets))
	}
	if sets[0].Identifier != "A" || sets[0].Items[0] != "second" {
		t.Fatalf("head = %+v, want identifier A with replaced item", sets[0])
	}
	if sets[1].Identifier != "B" {
		t.Fatalf("tail = %+v, want identifier B", sets[1])
	}
}

func TestAddWorkGeneratesIdentifier(t *testing.T) {
	m := newTestManager(t)
	m.SetChildSingleWorkItem(true, "jobs")

	m.AddWork([]any{"x"}, "", "jobs", false)
	sets := m.WorkSets("jobs")
	if len(sets) != 1 || sets[0].Identifier == "" {
		t.Fatalf("expected a generated identifier, got %+v", sets)
	}
}

func TestAddWorkSorted(t *testing.T) {
	m := newTestManager(t)
	m.SetChildSingleWorkItem(true, "jobs")

	m.AddWork([]any{"x"}, "c", "jobs", false)
	m.AddWork([]any{"y"}, "a", "jobs", false)
	m.AddWork([]any{"z"}, "b", "jobs", true)

	sets := m.WorkSets("jobs")
	got := []string{sets[0].Identifier, sets[1].Identifier, sets[2].Identifier}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("sorted identifiers = %v, want %v", got, want)
	}
}

func TestWorkSetsCountAllBuckets(t *testing.T) {
	m := newTestManager(t)

	m.AddWork([]any{"a", "b"}, "", "one", false)
	m.AddWork([]any{"c"}, "", "two", false)

	if got := m.WorkSetsCount("one", false); got != 2 {
		t.Fatalf("bucket one = %d, want 2", got)
	}
	if got := m.WorkSetsCount("", true); got != 3 {
		t.Fatalf("all buckets = %d, want 3", got)
	}
}
