package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hjongc/simple-llm-chat/internal/types"
)

// maxLineBytes bounds one upstream SSE line, partial or complete.
const maxLineBytes = 1 << 20

const (
	dataPrefix    = "data: "
	doneSentinel  = "[DONE]"
	streamErrText = "[오류] 스트리밍 응답 실패: "
)

const (
	streamDone        = "done"
	streamFailed      = "upstream_error"
	streamClientGone  = "client_gone"
	streamWriteFailed = "write_error"
)

var (
	errLineTooLong = fmt.Errorf("upstream line exceeds %d bytes", maxLineBytes)
	errNoSentinel  = errors.New("upstream closed the stream without [DONE]")
)

// lineBuffer splits an arbitrarily chunked byte stream into lines. Only the
// trailing partial line is carried between Feed calls.
type lineBuffer struct {
	residual []byte
}

// Feed appends p and returns every line it completed, without the newline.
func (b *lineBuffer) Feed(p []byte) ([]string, error) {
	b.residual = append(b.residual, p...)

	var lines []string
	for {
		i := bytes.IndexByte(b.residual, '\n')
		if i < 0 {
			break
		}
		if i > maxLineBytes {
			return lines, errLineTooLong
		}
		lines = append(lines, string(b.residual[:i]))
		b.residual = b.residual[i+1:]
	}
	if len(b.residual) > maxLineBytes {
		return lines, errLineTooLong
	}
	// Release the consumed prefix once nothing is pending.
	if len(b.residual) == 0 {
		b.residual = nil
	}
	return lines, nil
}

// Flush returns the unterminated trailing line, if any.
func (b *lineBuffer) Flush() (string, bool) {
	if len(b.residual) == 0 {
		return "", false
	}
	line := string(b.residual)
	b.residual = nil
	return line, true
}

// relay re-frames upstream SSE lines as OpenAI chunks for one caller.
type relay struct {
	w     io.Writer
	flush func()
	buf   bytes.Buffer
	enc   *json.Encoder

	id      string
	created int64
	model   string
	chunks  int
}

func newRelay(w io.Writer, flush func(), model string) *relay {
	rl := &relay{
		w:       w,
		flush:   flush,
		id:      newCompletionID(),
		created: time.Now().Unix(),
		model:   model,
	}
	rl.enc = json.NewEncoder(&rl.buf)
	rl.enc.SetEscapeHTML(false)
	return rl
}

// handleLine processes one upstream line and reports whether the sentinel was
// seen. The only errors returned are caller write failures.
func (rl *relay) handleLine(line string) (bool, error) {
	line = strings.TrimSpace(line)
	data, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return false, nil
	}
	if strings.TrimSpace(data) == doneSentinel {
		return true, rl.writeDone()
	}

	if !gjson.Valid(data) {
		return false, nil
	}
	obj := gjson.Parse(data)
	if !obj.IsObject() {
		return false, nil
	}
	choices := obj.Get("choices")
	if !choices.IsArray() {
		return false, nil
	}
	list := choices.Array()
	if len(list) == 0 {
		return false, nil
	}
	first := list[0]

	delta := json.RawMessage(`{}`)
	if d := first.Get("delta"); d.IsObject() {
		delta = json.RawMessage(d.Raw)
	}
	var finish *string
	if fr := first.Get("finish_reason"); fr.Type == gjson.String {
		s := fr.String()
		finish = &s
	}
	return false, rl.writeChunk(delta, finish)
}

func (rl *relay) writeChunk(delta json.RawMessage, finish *string) error {
	rl.buf.Reset()
	if err := rl.enc.Encode(types.StreamChunk{
		ID:      rl.id,
		Object:  types.ObjectChatCompletionChunk,
		Created: rl.created,
		Model:   rl.model,
		Choices: []types.StreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}); err != nil {
		return err
	}
	// Encode terminates with a newline; the frame needs a blank line after it.
	frame := append([]byte(dataPrefix), rl.buf.Bytes()...)
	frame = append(frame, '\n')
	if _, err := rl.w.Write(frame); err != nil {
		return err
	}
	rl.chunks++
	rl.flush()
	return nil
}

func (rl *relay) writeDone() error {
	if _, err := io.WriteString(rl.w, dataPrefix+doneSentinel+"\n\n"); err != nil {
		return err
	}
	rl.flush()
	return nil
}

// fail emits the in-band error chunk followed by the sentinel.
func (rl *relay) fail(reason error) error {
	var delta bytes.Buffer
	enc := json.NewEncoder(&delta)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]string{"content": streamErrText + reason.Error()}); err != nil {
		return err
	}
	stop := "stop"
	if err := rl.writeChunk(bytes.TrimSpace(delta.Bytes()), &stop); err != nil {
		return err
	}
	return rl.writeDone()
}

// pump copies body into the relay until the sentinel, a failure or caller
// cancellation. It returns the outcome label and the error that ended the
// stream, if any. Upstream failures have already been reported in-band.
func (rl *relay) pump(ctx context.Context, body io.Reader) (string, error) {
	var (
		lb  lineBuffer
		buf = make([]byte, 32<<10)
	)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			lines, ferr := lb.Feed(buf[:n])
			for _, line := range lines {
				done, werr := rl.handleLine(line)
				if werr != nil {
					return streamWriteFailed, werr
				}
				if done {
					return streamDone, nil
				}
			}
			if ferr != nil {
				return rl.abort(ferr)
			}
		}

		if rerr == nil {
			continue
		}
		if ctx.Err() != nil {
			return streamClientGone, ctx.Err()
		}
		if !errors.Is(rerr, io.EOF) {
			return rl.abort(rerr)
		}
		if line, ok := lb.Flush(); ok {
			done, werr := rl.handleLine(line)
			if werr != nil {
				return streamWriteFailed, werr
			}
			if done {
				return streamDone, nil
			}
		}
		return rl.abort(errNoSentinel)
	}
}

func (rl *relay) abort(reason error) (string, error) {
	if werr := rl.fail(reason); werr != nil {
		return streamWriteFailed, werr
	}
	return streamFailed, reason
}

// beginStream commits the SSE response. After this the status can no longer
// change and every failure is reported in-band.
func beginStream(w http.ResponseWriter, reqID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
}
