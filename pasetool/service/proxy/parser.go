package proxy

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
)

var (
	ErrEmptyRequest    = errors.New("empty request")
	ErrEmptyResponse   = errors.New("empty response")
	ErrInvalidRequest  = errors.New("invalid request line")
	ErrInvalidResponse = errors.New("invalid status line")
)

// ParseRequest parses a raw HTTP/1.x request.
// Malformed input is tolerated as long as a method and target can be read.
func ParseRequest(raw []byte) (*RawHTTP1Request, error) {
	return parseRequest(bufio.NewReader(bytes.NewReader(raw)))
}

func parseRequest(br *bufio.Reader) (*RawHTTP1Request, error) {
	line, lineLF, err := readLineWithEnding(br)
	if len(line) == 0 && err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyRequest
		}
		return nil, err
	}

	method, path, query, version, err := ParseRequestLine(line)
	if err != nil {
		return nil, err
	}
	req := &RawHTTP1Request{Method: method, Path: path, Query: query, Version: version}

	var headersLF bool
	if req.Headers, headersLF, err = readHeaders(br); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var chunked bool
	if isChunked(req.Headers) {
		chunked = true
		req.Body, req.Trailers, err = readChunkedBody(br)
	} else if cl, ok := contentLength(req.Headers); ok && cl > 0 {
		req.Body = make([]byte, cl)
		_, err = io.ReadFull(br, req.Body)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if lineLF || headersLF || chunked {
		req.Wire = &WireFormat{WasChunked: chunked, UsedBareLF: lineLF || headersLF}
	}
	return req, nil
}

// parseResponse reads a response; method is needed because HEAD responses carry no body.
func parseResponse(br *bufio.Reader, method string) (*RawHTTP1Response, error) {
	line, lineLF, err := readLineWithEnding(br)
	if len(line) == 0 && err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyResponse
		}
		return nil, err
	}

	version, code, text, err := parseStatusLine(line)
	if err != nil {
		return nil, err
	}
	resp := &RawHTTP1Response{Version: version, StatusCode: code, StatusText: text}

	var headersLF bool
	if resp.Headers, headersLF, err = readHeaders(br); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	bareLF := lineLF || headersLF

	var chunked bool
	switch {
	case method == "HEAD", code < 200, code == 204, code == 304:
		// no body
	case isChunked(resp.Headers):
		chunked = true
		resp.Body, resp.Trailers, err = readChunkedBody(br)
	default:
		if cl, ok := contentLength(resp.Headers); ok {
			if cl > 0 {
				resp.Body = make([]byte, cl)
				_, err = io.ReadFull(br, resp.Body)
			}
		} else {
			resp.Body, err = io.ReadAll(br)
		}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if bareLF || chunked {
		resp.Wire = &WireFormat{WasChunked: chunked, UsedBareLF: bareLF}
	}
	return resp, nil
}

// readLineWithEnding returns the line without its terminator and whether it ended in a bare LF.
func readLineWithEnding(br *bufio.Reader) ([]byte, bool, error) {
	line, err := br.ReadBytes('\n')
	if err != nil {
		return bytes.TrimSuffix(line, []byte("\r")), false, err
	}
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1], false, nil
	}
	return line, true, nil
}

// ParseRequestLine splits a request line into its parts.
// Absolute-form targets keep the scheme and authority in path.
func ParseRequestLine(line []byte) (method, path, query, version string, err error) {
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) < 2 || parts[0] == "" {
		return "", "", "", "", ErrInvalidRequest
	}
	method = parts[0]
	version = "HTTP/1.1"
	if len(parts) == 3 {
		version = strings.TrimSpace(parts[2])
	}
	path, query, _ = strings.Cut(parts[1], "?")
	return method, path, query, version, nil
}

func parseStatusLine(line []byte) (version string, code int, text string, err error) {
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) < 2 {
		return "", 0, "", ErrInvalidResponse
	}
	if code, err = strconv.Atoi(parts[1]); err != nil {
		return "", 0, "", ErrInvalidResponse
	}
	if len(parts) == 3 {
		text = parts[2]
	}
	return parts[0], code, text, nil
}

// readHeaders reads header lines up to the blank line, folding obs-fold
// continuations into the previous header while keeping its raw bytes.
func readHeaders(br *bufio.Reader) (Headers, bool, error) {
	var headers Headers
	var sawLF bool
	for {
		line, bareLF, err := readLineWithEnding(br)
		sawLF = sawLF || bareLF
		if err != nil && !errors.Is(err, io.EOF) {
			return headers, sawLF, err
		} else if len(line) == 0 {
			return headers, sawLF, err
		}

		if (line[0] == ' ' || line[0] == '\t') && len(headers) > 0 {
			last := &headers[len(headers)-1]
			if bareLF {
				last.RawLine = append(last.RawLine, '\n')
			} else {
				last.RawLine = append(last.RawLine, '\r', '\n')
			}
			last.RawLine = append(last.RawLine, line...)
			last.Value += " " + strings.TrimLeft(string(line), " \t")
		} else {
			h := parseHeaderLine(line)
			h.RawLine = bytes.Clone(line)
			headers = append(headers, h)
		}
		if err != nil {
			return headers, sawLF, err
		}
	}
}

func parseHeaderLine(line []byte) Header {
	name, value, ok := bytes.Cut(line, []byte(":"))
	if !ok {
		return Header{Name: string(line)}
	}
	return Header{Name: string(name), Value: strings.TrimSpace(string(value))}
}

func isChunked(h Headers) bool {
	return strings.Contains(strings.ToLower(h.Get("Transfer-Encoding")), "chunked")
}

// contentLength returns the declared length; ok is false when absent or unparseable.
func contentLength(h Headers) (int64, bool) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func readChunkedBody(br *bufio.Reader) (body, trailers []byte, err error) {
	var buf bytes.Buffer
	for {
		sizeLine, _, err := readLineWithEnding(br)
		if err != nil && !errors.Is(err, io.EOF) {
			return buf.Bytes(), nil, err
		}
		sizeStr, _, _ := strings.Cut(string(sizeLine), ";")
		size, perr := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
		if perr != nil {
			return buf.Bytes(), nil, nil // truncated framing, keep what arrived
		} else if size == 0 {
			return buf.Bytes(), readTrailers(br), nil
		}

		if _, err := io.CopyN(&buf, br, size); err != nil {
			return buf.Bytes(), nil, err
		}
		_, _, _ = readLineWithEnding(br)
	}
}

func readTrailers(br *bufio.Reader) []byte {
	var buf bytes.Buffer
	for {
		line, _, err := readLineWithEnding(br)
		if len(line) == 0 {
			return buf.Bytes()
		}
		buf.Write(line)
		buf.WriteString("\r\n")
		if err != nil {
			return buf.Bytes()
		}
	}
}

// SerializeRaw renders the request back to wire bytes.
// Raw header lines and bare-LF endings are reproduced when known. A chunked body is
// re-chunked only when preserveChunked is set; otherwise Content-Length is emitted.
func (r *RawHTTP1Request) SerializeRaw(buf *bytes.Buffer, preserveChunked bool) []byte {
	buf.Reset()
	eol := lineEnding(r.Wire)

	buf.WriteString(r.Method)
	buf.WriteByte(' ')
	buf.WriteString(r.Path)
	if r.Query != "" {
		buf.WriteByte('?')
		buf.WriteString(r.Query)
	}
	buf.WriteByte(' ')
	buf.WriteString(r.Version)
	buf.WriteString(eol)

	writeMessageTail(buf, r.Headers, r.Body, r.Trailers, r.Wire, preserveChunked, eol)
	return buf.Bytes()
}

// SerializeRaw renders the response back to wire bytes, see RawHTTP1Request.SerializeRaw.
func (r *RawHTTP1Response) SerializeRaw(buf *bytes.Buffer, preserveChunked bool) []byte {
	buf.Reset()
	eol := lineEnding(r.Wire)

	buf.WriteString(r.Version)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(r.StatusCode))
	if r.StatusText != "" {
		buf.WriteByte(' ')
		buf.WriteString(r.StatusText)
	}
	buf.WriteString(eol)

	writeMessageTail(buf, r.Headers, r.Body, r.Trailers, r.Wire, preserveChunked, eol)
	return buf.Bytes()
}

func lineEnding(w *WireFormat) string {
	if w != nil && w.UsedBareLF {
		return "\n"
	}
	return "\r\n"
}

func writeMessageTail(buf *bytes.Buffer, headers Headers, body, trailers []byte, wire *WireFormat,
	preserveChunked bool, eol string) {
	wasChunked := wire != nil && wire.WasChunked
	chunked := preserveChunked && wasChunked
	// a de-chunked body's stale Content-Length must be replaced
	dropCL := chunked || wasChunked

	for _, h := range headers {
		if strings.EqualFold(h.Name, "Transfer-Encoding") && strings.Contains(strings.ToLower(h.Value), "chunked") {
			if chunked {
				writeHeaderLine(buf, h, eol)
			}
			continue
		} else if dropCL && strings.EqualFold(h.Name, "Content-Length") {
			continue
		}
		writeHeaderLine(buf, h, eol)
	}
	if !chunked && len(body) > 0 && (wasChunked || !headers.Has("Content-Length")) {
		buf.WriteString("Content-Length: ")
		buf.WriteString(strconv.Itoa(len(body)))
		buf.WriteString(eol)
	}
	buf.WriteString(eol)

	if !chunked {
		buf.Write(body)
		return
	}
	if len(body) > 0 {
		buf.WriteString(strconv.FormatInt(int64(len(body)), 16))
		buf.WriteString(eol)
		buf.Write(body)
		buf.WriteString(eol)
	}
	buf.WriteByte('0')
	buf.WriteString(eol)
	buf.Write(trailers)
	buf.WriteString(eol)
}

func writeHeaderLine(buf *bytes.Buffer, h Header, eol string) {
	if len(h.RawLine) > 0 {
		buf.Write(h.RawLine)
	} else {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
	}
	buf.WriteString(eol)
}
