package record

import (
	"encoding/json"
	"fmt"
)

// wireRecord is the on-disk/wire shape of a Record. Field names are part of
// the on-disk format: older rows must still parse after upgrades, so fields
// are never renamed, only added. Byte counters are emitted both as a
// best-effort 32-bit field (legacy readers) and as a decimal string field
// prefixed e_ (authoritative on read).
type wireRecord struct {
	Ticket    uint64 `json:"ticket"`
	Direction string `json:"direction"`
	Owner     string `json:"owner"`

	SourceURL  string `json:"source_url"`
	MimeType   string `json:"mime"`
	TargetDir  string `json:"target_dir"`
	TargetName string `json:"target_name"`
	TempPrefix string `json:"temp_prefix"`

	AuthToken string `json:"auth_token"`
	DeviceID  string `json:"device_id"`
	Cookie    string `json:"cookie"`

	SourceFilePath    string       `json:"source_file_path,omitempty"`
	FileLabel         string       `json:"file_label,omitempty"`
	PostParameters    []UploadPart `json:"post_parameters,omitempty"`
	CustomHTTPHeaders []string     `json:"custom_http_headers,omitempty"`

	InitialOffset      int32  `json:"initial_offset"`
	EInitialOffset     string `json:"e_initial_offset"`
	BytesCompleted     int32  `json:"bytes_completed"`
	EBytesCompleted    string `json:"e_bytes_completed"`
	BytesTotal         int32  `json:"bytes_total"`
	EBytesTotal        string `json:"e_bytes_total"`
	HasRange           bool   `json:"has_range"`
	RangeLow           int32  `json:"e_range_low,omitempty"`
	ERangeLow          string `json:"range_low_str,omitempty"`
	RangeHigh          int32  `json:"e_range_high,omitempty"`
	ERangeHigh         string `json:"range_high_str,omitempty"`

	KeepFilenameOnRedirect bool `json:"keep_filename_on_redirect"`
	CanHandlePause         bool `json:"can_handle_pause"`
	AutoResume             bool `json:"auto_resume"`
	Append                 bool `json:"append"`

	Interface     string `json:"interface"`
	RedirectsLeft int    `json:"redirects_left"`

	LastUpdateMark  int32  `json:"last_update_mark"`
	ELastUpdateMark string `json:"e_last_update_mark"`
	UpdateInterval  int32  `json:"update_interval"`
	EUpdateInterval string `json:"e_update_interval"`

	ErrorCount int    `json:"error_count"`
	State      string `json:"state"`
	Queued     bool   `json:"queued"`
}

// Encode serializes a Record into its stable on-disk string form.
func Encode(r *Record) (string, error) {
	r.Lock()
	defer r.Unlock()

	ioT, ioE := EDecimal(r.InitialOffset)
	bcT, bcE := EDecimal(r.BytesCompleted)
	btT, btE := EDecimal(r.BytesTotal)
	lumT, lumE := EDecimal(r.LastUpdateMark)
	uiT, uiE := EDecimal(r.UpdateInterval)

	w := wireRecord{
		Ticket:                 uint64(r.Ticket),
		Direction:              string(r.Direction),
		Owner:                  r.Owner,
		SourceURL:              r.SourceURL,
		MimeType:               r.MimeType,
		TargetDir:              r.TargetDir,
		TargetName:             r.TargetName,
		TempPrefix:             r.TempPrefix,
		AuthToken:              r.AuthToken,
		DeviceID:               r.DeviceID,
		Cookie:                 r.Cookie,
		SourceFilePath:         r.SourceFilePath,
		FileLabel:              r.FileLabel,
		PostParameters:         r.PostParameters,
		CustomHTTPHeaders:      r.CustomHTTPHeaders,
		InitialOffset:          ioT,
		EInitialOffset:         ioE,
		BytesCompleted:         bcT,
		EBytesCompleted:        bcE,
		BytesTotal:             btT,
		EBytesTotal:            btE,
		KeepFilenameOnRedirect: r.Flags.KeepFilenameOnRedirect,
		CanHandlePause:         r.Flags.CanHandlePause,
		AutoResume:             r.Flags.AutoResume,
		Append:                 r.Flags.Append,
		Interface:              string(r.Interface),
		RedirectsLeft:          r.RedirectsLeft,
		LastUpdateMark:         lumT,
		ELastUpdateMark:        lumE,
		UpdateInterval:         uiT,
		EUpdateInterval:        uiE,
		ErrorCount:             r.ErrorCount,
		State:                  string(r.State),
		Queued:                 r.Queued,
	}

	if r.Range != nil {
		w.HasRange = true
		w.RangeLow, w.ERangeLow = EDecimal(r.Range.Low)
		w.RangeHigh, w.ERangeHigh = EDecimal(r.Range.High)
	}

	buf, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode record %d: %w", r.Ticket, err)
	}
	return string(buf), nil
}

// Decode parses a record blob produced by Encode. The e_-prefixed decimal
// string form is authoritative; the truncated 32-bit field is only consulted
// when the string is missing (a row written by a pre-e_-field version).
func Decode(blob string) (*Record, error) {
	var w wireRecord
	if err := json.Unmarshal([]byte(blob), &w); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	r := &Record{
		Ticket:         Ticket(w.Ticket),
		Direction:      Direction(w.Direction),
		Owner:          w.Owner,
		SourceURL:      w.SourceURL,
		MimeType:       w.MimeType,
		TargetDir:      w.TargetDir,
		TargetName:     w.TargetName,
		TempPrefix:     w.TempPrefix,
		AuthToken:      w.AuthToken,
		DeviceID:       w.DeviceID,
		Cookie:         w.Cookie,
		SourceFilePath: w.SourceFilePath,
		FileLabel:      w.FileLabel,
		PostParameters: w.PostParameters,
		CustomHTTPHeaders: w.CustomHTTPHeaders,
		InitialOffset:  ParseEDecimal(w.EInitialOffset, w.InitialOffset),
		BytesCompleted: ParseEDecimal(w.EBytesCompleted, w.BytesCompleted),
		BytesTotal:     ParseEDecimal(w.EBytesTotal, w.BytesTotal),
		Flags: Flags{
			KeepFilenameOnRedirect: w.KeepFilenameOnRedirect,
			CanHandlePause:         w.CanHandlePause,
			AutoResume:             w.AutoResume,
			Append:                 w.Append,
		},
		Interface:      InterfaceName(w.Interface),
		RedirectsLeft:  w.RedirectsLeft,
		LastUpdateMark: ParseEDecimal(w.ELastUpdateMark, w.LastUpdateMark),
		UpdateInterval: ParseEDecimal(w.EUpdateInterval, w.UpdateInterval),
		ErrorCount:     w.ErrorCount,
		State:          State(w.State),
		Queued:         w.Queued,
	}

	if w.HasRange {
		r.Range = &ByteRange{
			Low:  ParseEDecimal(w.ERangeLow, w.RangeLow),
			High: ParseEDecimal(w.ERangeHigh, w.RangeHigh),
		}
	}

	return r, nil
}
