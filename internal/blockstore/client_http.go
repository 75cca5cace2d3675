package blockstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/arke-institute/arke-archive/internal/arkeerr"
	"github.com/arke-institute/arke-archive/internal/model"
)

// HTTPClient talks to the external content-addressed block store over
// its HTTP surface (spec §6). It never interprets block content beyond
// what PutDAG/GetDAG need to enforce the codec contract (spec §4.9).
type HTTPClient struct {
	baseURL string
	hc      *http.Client
	retry   RetryPolicy
}

// NewHTTPClient builds a block-store client against baseURL.
func NewHTTPClient(baseURL string, retry RetryPolicy) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 2 * time.Minute},
		retry:   retry,
	}
}

var _ Client = (*HTTPClient)(nil)

type cidEnvelope struct {
	Cid struct {
		Slash string `json:"/"`
	} `json:"Cid"`
}

func (c *HTTPClient) url(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *HTTPClient) doRaw(ctx context.Context, path string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path, q), body)
	if err != nil {
		return nil, arkeerr.Wrap(arkeerr.Malformed, "build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, arkeerr.Wrap(arkeerr.StoreUnavailable, "store request failed", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, arkeerr.New(arkeerr.NotFound, path)
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, arkeerr.New(arkeerr.StoreUnavailable, fmt.Sprintf("%s: status %d", path, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, arkeerr.New(arkeerr.Malformed, fmt.Sprintf("%s: status %d", path, resp.StatusCode))
	}
	return resp, nil
}

func multipartBody(field, filename string, data []byte) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// PutDAG implements Client.PutDAG.
func (c *HTTPClient) PutDAG(ctx context.Context, node interface{}, codec model.InputCodec, pin bool, allowBig bool) (cid.Cid, error) {
	var raw []byte
	var err error
	storeCodec := "dag-cbor"
	inputCodec := "dag-cbor"
	switch codec {
	case model.Typed:
		raw, _, err = model.EncodeTyped(node)
	case model.Plain:
		raw, err = model.EncodePlain(node)
		storeCodec = "json"
		inputCodec = "json"
	default:
		return cid.Undef, arkeerr.New(arkeerr.Malformed, "unknown input codec")
	}
	if err != nil {
		return cid.Undef, arkeerr.Wrap(arkeerr.Malformed, "encode dag node", err)
	}

	q := url.Values{}
	q.Set("store-codec", storeCodec)
	q.Set("input-codec", inputCodec)
	q.Set("pin", strconv.FormatBool(pin))
	if allowBig {
		q.Set("allow-big-block", "true")
	}

	var out cid.Cid
	err = withRetry(ctx, c.retry, "dag_put", func() error {
		body, ct, berr := multipartBody("file", "block", raw)
		if berr != nil {
			return arkeerr.Wrap(arkeerr.Malformed, "build multipart body", berr)
		}
		resp, derr := c.doRaw(ctx, "/dag/put", q, body, ct)
		if derr != nil {
			return derr
		}
		defer resp.Body.Close()
		var env cidEnvelope
		if jerr := json.NewDecoder(resp.Body).Decode(&env); jerr != nil {
			return arkeerr.Wrap(arkeerr.StoreUnavailable, "decode dag/put response", jerr)
		}
		parsed, perr := cid.Parse(env.Cid.Slash)
		if perr != nil {
			return arkeerr.Wrap(arkeerr.Invariant, "store returned invalid cid", perr)
		}
		out = parsed
		return nil
	})
	return out, err
}

// GetDAG implements Client.GetDAG.
func (c *HTTPClient) GetDAG(ctx context.Context, cidv cid.Cid, out interface{}) error {
	raw, err := c.RawBlock(ctx, cidv)
	if err != nil {
		return err
	}
	if derr := model.DecodeTyped(raw, out); derr != nil {
		return arkeerr.Wrap(arkeerr.Invariant, "decode dag node", derr)
	}
	return nil
}

// RawBlock implements Client.RawBlock.
func (c *HTTPClient) RawBlock(ctx context.Context, cidv cid.Cid) (raw []byte, err error) {
	q := url.Values{}
	q.Set("arg", cidv.String())
	err = withRetry(ctx, c.retry, "dag_get", func() error {
		resp, derr := c.doRaw(ctx, "/dag/get", q, nil, "")
		if derr != nil {
			return derr
		}
		defer resp.Body.Close()
		body, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return arkeerr.Wrap(arkeerr.StoreUnavailable, "read dag/get body", rerr)
		}
		raw = body
		return nil
	})
	return raw, err
}

// Links implements Client.Links by decoding the node and inspecting
// every cid.Cid-valued field, mirroring model.EncodeTyped's link
// discovery via the dag-cbor codec.
func (c *HTTPClient) Links(ctx context.Context, cidv cid.Cid) ([]cid.Cid, error) {
	raw, err := c.RawBlock(ctx, cidv)
	if err != nil {
		return nil, err
	}
	return model.LinksFromTypedCBOR(raw)
}

// AddBytes implements Client.AddBytes.
func (c *HTTPClient) AddBytes(ctx context.Context, r io.Reader, pin bool) (cid.Cid, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return cid.Undef, arkeerr.Wrap(arkeerr.Malformed, "read bytes to add", err)
	}
	q := url.Values{}
	q.Set("cid-version", "1")
	q.Set("pin", strconv.FormatBool(pin))

	var out cid.Cid
	err = withRetry(ctx, c.retry, "add", func() error {
		body, ct, berr := multipartBody("file", "data", data)
		if berr != nil {
			return arkeerr.Wrap(arkeerr.Malformed, "build multipart body", berr)
		}
		resp, derr := c.doRaw(ctx, "/add", q, body, ct)
		if derr != nil {
			return derr
		}
		defer resp.Body.Close()
		var env cidEnvelope
		if jerr := json.NewDecoder(resp.Body).Decode(&env); jerr != nil {
			return arkeerr.Wrap(arkeerr.StoreUnavailable, "decode add response", jerr)
		}
		parsed, perr := cid.Parse(env.Cid.Slash)
		if perr != nil {
			return arkeerr.Wrap(arkeerr.Invariant, "store returned invalid cid", perr)
		}
		out = parsed
		return nil
	})
	return out, err
}

func (c *HTTPClient) pinOp(ctx context.Context, op string, cids ...cid.Cid) error {
	q := url.Values{}
	for _, cv := range cids {
		q.Add("arg", cv.String())
	}
	return withRetry(ctx, c.retry, "pin_"+op, func() error {
		resp, err := c.doRaw(ctx, "/pin/"+op, q, nil, "")
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

func (c *HTTPClient) PinAdd(ctx context.Context, cidv cid.Cid) error { return c.pinOp(ctx, "add", cidv) }
func (c *HTTPClient) PinRm(ctx context.Context, cidv cid.Cid) error  { return c.pinOp(ctx, "rm", cidv) }
func (c *HTTPClient) PinUpdate(ctx context.Context, old, new cid.Cid) error {
	return c.pinOp(ctx, "update", old, new)
}

func (c *HTTPClient) MFSRead(ctx context.Context, path string) (data []byte, err error) {
	q := url.Values{}
	q.Set("arg", path)
	err = withRetry(ctx, c.retry, "files_read", func() error {
		resp, derr := c.doRaw(ctx, "/files/read", q, nil, "")
		if derr != nil {
			return derr
		}
		defer resp.Body.Close()
		body, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return arkeerr.Wrap(arkeerr.StoreUnavailable, "read files/read body", rerr)
		}
		data = body
		return nil
	})
	return data, err
}

func (c *HTTPClient) MFSWrite(ctx context.Context, path string, data []byte, create, truncate bool) error {
	q := url.Values{}
	q.Set("arg", path)
	if create {
		q.Set("create", "true")
	}
	if truncate {
		q.Set("truncate", "true")
	}
	return withRetry(ctx, c.retry, "files_write", func() error {
		body, ct, berr := multipartBody("file", "data", data)
		if berr != nil {
			return arkeerr.Wrap(arkeerr.Malformed, "build multipart body", berr)
		}
		resp, derr := c.doRaw(ctx, "/files/write", q, body, ct)
		if derr != nil {
			return derr
		}
		resp.Body.Close()
		return nil
	})
}

func (c *HTTPClient) MFSMkdir(ctx context.Context, path string, parents bool) error {
	q := url.Values{}
	q.Set("arg", path)
	if parents {
		q.Set("parents", "true")
	}
	return withRetry(ctx, c.retry, "files_mkdir", func() error {
		resp, err := c.doRaw(ctx, "/files/mkdir", q, nil, "")
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

func (c *HTTPClient) MFSRemove(ctx context.Context, path string) error {
	q := url.Values{}
	q.Set("arg", path)
	return withRetry(ctx, c.retry, "files_rm", func() error {
		resp, err := c.doRaw(ctx, "/files/rm", q, nil, "")
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

func (c *HTTPClient) MFSStat(ctx context.Context, path string) (st Stat, err error) {
	q := url.Values{}
	q.Set("arg", path)
	err = withRetry(ctx, c.retry, "files_stat", func() error {
		resp, derr := c.doRaw(ctx, "/files/stat", q, nil, "")
		if derr != nil {
			return derr
		}
		defer resp.Body.Close()
		var body struct {
			Size  int64  `json:"Size"`
			Type  string `json:"Type"`
			Hash  string `json:"Hash"`
		}
		if jerr := json.NewDecoder(resp.Body).Decode(&body); jerr != nil {
			return arkeerr.Wrap(arkeerr.StoreUnavailable, "decode files/stat response", jerr)
		}
		st = Stat{Size: body.Size, IsDir: body.Type == "directory", CIDStr: body.Hash}
		return nil
	})
	return st, err
}

func (c *HTTPClient) DAGExport(ctx context.Context, root cid.Cid, w io.Writer) error {
	q := url.Values{}
	q.Set("arg", root.String())
	return withRetry(ctx, c.retry, "dag_export", func() error {
		resp, derr := c.doRaw(ctx, "/dag/export", q, nil, "")
		if derr != nil {
			return derr
		}
		defer resp.Body.Close()
		if _, cerr := io.Copy(w, resp.Body); cerr != nil {
			return arkeerr.Wrap(arkeerr.StoreUnavailable, "stream dag/export", cerr)
		}
		return nil
	})
}

func (c *HTTPClient) DAGImport(ctx context.Context, r io.Reader) (stats ImportStats, err error) {
	data, rerr := io.ReadAll(r)
	if rerr != nil {
		return stats, arkeerr.Wrap(arkeerr.Malformed, "read import archive", rerr)
	}
	err = withRetry(ctx, c.retry, "dag_import", func() error {
		body, ct, berr := multipartBody("file", "archive.car", data)
		if berr != nil {
			return arkeerr.Wrap(arkeerr.Malformed, "build multipart body", berr)
		}
		resp, derr := c.doRaw(ctx, "/dag/import", nil, body, ct)
		if derr != nil {
			return derr
		}
		defer resp.Body.Close()
		var out struct {
			Root  []string `json:"Root"`
			Stats struct {
				BlockCount int `json:"BlockCount"`
			} `json:"Stats"`
		}
		if jerr := json.NewDecoder(resp.Body).Decode(&out); jerr != nil {
			return arkeerr.Wrap(arkeerr.StoreUnavailable, "decode dag/import response", jerr)
		}
		for _, s := range out.Root {
			if pc, perr := cid.Parse(s); perr == nil {
				stats.RootCIDs = append(stats.RootCIDs, pc)
			}
		}
		stats.BlocksImported = out.Stats.BlockCount
		return nil
	})
	return stats, err
}
