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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MaxMessageSize bounds a single frame payload.
const MaxMessageSize = 100 * 1024 * 1024 // 100MB

// ErrClosed is returned by Receive when the peer has closed its end of the
// channel in an orderly way (zero-length read on the frame header).
var ErrClosed = errors.New("ipc: channel closed")

// TransportError reports an I/O failure on the underlying stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ipc: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EncodeError reports a payload that could not be serialized or framed.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("ipc: encode error: %v", e.Err) }

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError reports a malformed incoming frame.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("ipc: decode error: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// Channel is one end of a duplex byte stream carrying discrete messages.
// Each message is a 4-byte big-endian unsigned length followed by that many
// bytes of JSON payload. Send and Receive serialize internally so a frame is
// never interleaved with another from the same end.
type Channel struct {
	conn io.ReadWriteCloser

	wmu sync.Mutex
	rmu sync.Mutex
}

// NewChannel wraps an existing duplex stream.
func NewChannel(conn io.ReadWriteCloser) *Channel {
	return &Channel{conn: conn}
}

// Pair creates a connected channel pair backed by an AF_UNIX socketpair.
// The first return value is the parent-side channel; the second is the raw
// child-side endpoint, suitable for handing to a spawned process as an
// inherited file descriptor.
func Pair() (*Channel, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("ipc: socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	parent := os.NewFile(uintptr(fds[0]), "forkd-channel-parent")
	child := os.NewFile(uintptr(fds[1]), "forkd-channel-child")
	return NewChannel(parent), child, nil
}

// FromFile wraps an inherited endpoint on the child side.
func FromFile(f *os.File) *Channel {
	return NewChannel(f)
}

// Send serializes msg, prefixes its length, and writes the frame.
func (c *Channel) Send(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return &EncodeError{Err: err}
	}
	if len(payload) > MaxMessageSize {
		return &EncodeError{Err: fmt.Errorf("payload of %d bytes exceeds limit", len(payload))}
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := binary.Write(c.conn, binary.BigEndian, uint32(len(payload))); err != nil {
		return &TransportError{Op: "write header", Err: err}
	}
	if _, err := c.conn.Write(payload); err != nil {
		return &TransportError{Op: "write payload", Err: err}
	}
	return nil
}

// Receive reads one frame. A zero-length read on the header means the peer
// closed the channel and yields ErrClosed.
func (c *Channel) Receive() (Message, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	var size uint32
	if err := binary.Read(c.conn, binary.BigEndian, &size); err != nil {
		if err == io.EOF {
			return Message{}, ErrClosed
		}
		return Message{}, &TransportError{Op: "read header", Err: err}
	}
	if size > MaxMessageSize {
		return Message{}, &DecodeError{Err: fmt.Errorf("frame of %d bytes exceeds limit", size)}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return Message{}, &TransportError{Op: "read payload", Err: err}
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, &DecodeError{Err: err}
	}
	return msg, nil
}

// Close closes the underlying stream. Receive on the peer returns ErrClosed
// once buffered frames are drained.
func (c *Channel) Close() error {
	return c.conn.Close()
}
