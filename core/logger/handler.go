package logger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders one line per record with a stable key order.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = slices.Clone(defaultKeyOrder)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errors.New("logger: writer not initialized")
	}
	isJSON := h.cfg.format == formatJSON

	rec := make(record, 16)
	ts := r.Time.UTC()
	rec["ts"] = ts.Truncate(time.Millisecond).Format(timeFormatMillis)
	rec["level"] = normalizeLevel(r.Level.String())
	if isJSON {
		rec["ts_unix_nano"] = ts.UnixNano()
	}
	for _, a := range h.attrs {
		h.add(rec, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.add(rec, a)
		return true
	})
	rec.addContext(ctx)
	rec.compactRID(isJSON)

	event := r.Message
	if event == "" {
		event = "unknown"
	}
	rec.setDefault("event", event)
	rec.setDefault("component", "app")
	rec.normalizeEnums()
	rec.prune()

	var (
		line []byte
		err  error
	)
	if isJSON {
		line, err = rec.encodeJSON(h.cfg.keyOrder)
	} else {
		line = rec.encodeKV(h.cfg.keyOrder)
	}
	if err != nil {
		return err
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(slices.Clone(h.attrs), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(slices.Clone(h.groups), name)
	return &clone
}

func (h *structuredHandler) add(rec record, a slog.Attr) {
	walkAttr(strings.Join(h.groups, "."), a, func(key string, v slog.Value) {
		if key == "" {
			return
		}
		if key, val, ok := attrValue(key, v); ok {
			rec[key] = val
		}
	})
}

// walkAttr flattens groups into dotted keys.
func walkAttr(prefix string, a slog.Attr, fn func(string, slog.Value)) {
	key := a.Key
	switch {
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}
	if a.Value.Kind() != slog.KindGroup {
		fn(key, a.Value)
		return
	}
	for _, child := range a.Value.Group() {
		walkAttr(key, child, fn)
	}
}

func attrValue(key string, v slog.Value) (string, any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return key, v.Bool(), true
	case slog.KindInt64:
		return key, v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, v.Uint64(), true
	case slog.KindFloat64:
		return key, v.Float64(), true
	case slog.KindDuration:
		return durationKey(key), RoundMS(v.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano), true
	}

	switch x := v.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

// durationKey maps duration attributes onto the *_ms naming used by dashboards.
func durationKey(key string) string {
	if strings.HasSuffix(key, "_ms") {
		return key
	}
	return key + "_ms"
}

// record is the flattened set of fields of one log line.
type record map[string]any

func (r record) str(key string) (string, bool) {
	switch v := r[key].(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// setDefault stores val unless key already holds a non-empty value.
func (r record) setDefault(key string, val any) {
	if s, ok := r.str(key); ok && s != "" {
		return
	}
	r[key] = val
}

// addContext copies request metadata carried by ctx without overriding
// explicit attributes.
func (r record) addContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	put := func(key string, val any, present bool) {
		if _, exists := r[key]; present && !exists {
			r[key] = val
		}
	}
	rid := RIDFrom(ctx)
	put("rid", rid, rid != "")
	sid := SessionFrom(ctx)
	put("sid", sid, sid != "")
	uid := UserIDFrom(ctx)
	put("user_id", uid, uid != 0)
	upd := UpdateIDFrom(ctx)
	put("update_id", upd, upd != 0)
	cid := ChatIDFrom(ctx)
	put("chat_id", cid, cid != 0)
	handler := HandlerFrom(ctx)
	put("handler", handler, handler != "")
}

// compactRID shortens rid; JSON lines keep the raw value as rid_full.
func (r record) compactRID(keepFull bool) {
	rid, ok := r.str("rid")
	if !ok || rid == "" {
		return
	}
	compact := CompactRID(rid)
	if compact == "" || compact == rid {
		return
	}
	if _, seen := r["rid_full"]; keepFull && !seen {
		r["rid_full"] = rid
	}
	r["rid"] = compact
}

func (r record) normalizeEnums() {
	if level, ok := r.str("level"); ok {
		r["level"] = normalizeLevel(level)
	}
	if s, ok := r.str("status"); ok && s != "" {
		if norm, valid := normalizeStatus(s); valid {
			r["status"] = norm
		}
	}
	if o, ok := r.str("outcome"); ok && o != "" {
		if norm, valid := normalizeOutcome(o); valid {
			r["outcome"] = norm
		} else {
			delete(r, "outcome")
		}
	}
}

func (r record) prune() {
	for k, v := range r {
		if v == nil {
			delete(r, k)
			continue
		}
		if s, ok := r.str(k); ok && s == "" {
			delete(r, k)
		}
	}
}

// keys lists order first, then the remaining keys alphabetically.
func (r record) keys(order []string) []string {
	keys := make([]string, 0, len(r))
	for _, k := range order {
		if _, ok := r[k]; ok && !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	fixed := len(keys)
	for k := range r {
		if !slices.Contains(keys[:fixed], k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys[fixed:])
	return keys
}

func (r record) encodeJSON(order []string) ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range r.keys(order) {
		data, err := json.Marshal(r[k])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", k, err)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		b.Write(data)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func (r record) encodeKV(order []string) []byte {
	var b strings.Builder
	for i, k := range r.keys(order) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(kvValue(r[k]))
	}
	return []byte(b.String())
}

func kvValue(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		s = fmt.Sprint(x)
	}
	if strings.IndexFunc(s, needsQuote) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}
