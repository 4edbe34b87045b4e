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

package ipc

import (
	"encoding/json"
)

const (
	MsgTypeWorkOrder = "WorkOrder"
	MsgTypeResult    = "Result"
)

// Message is the frame envelope. The payload is an opaque in-family
// serialization of the typed body; cross-version compatibility is not a goal.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage wraps a typed body into a frame envelope.
func NewMessage(msgType string, body any) (Message, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Message{}, &EncodeError{Err: err}
	}
	return Message{Type: msgType, Payload: payload}, nil
}

// Decode unmarshals the payload into body.
func (m Message) Decode(body any) error {
	if err := json.Unmarshal(m.Payload, body); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// Work-order kinds.
const (
	OrderWork       = "Work"
	OrderPersistent = "Persistent"
	OrderHelper     = "Helper"
)

// WorkOrder is the first frame the parent sends to a freshly spawned child.
// It carries everything the child needs to run: the batch for a worker, the
// per-bucket payload for a persistent worker, or the registered function name
// and arguments for a helper.
type WorkOrder struct {
	Kind       string `json:"kind"`
	Bucket     string `json:"bucket"`
	Identifier string `json:"identifier,omitempty"`

	// Worker fields.
	Items []any `json:"items,omitempty"`
	Data  any   `json:"data,omitempty"`

	// Helper fields.
	Function string `json:"function,omitempty"`
	Args     []any  `json:"args,omitempty"`
}

// Result is the body of a result frame sent child-to-parent.
type Result struct {
	Value any `json:"value"`
}
