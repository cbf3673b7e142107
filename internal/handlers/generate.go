package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
	"github.com/Subhanamir19/faccely-sub002/internal/generation"
	"github.com/Subhanamir19/faccely-sub002/internal/idempotency"
	"github.com/Subhanamir19/faccely-sub002/internal/jobs"
	"github.com/Subhanamir19/faccely-sub002/internal/provider"
	"github.com/Subhanamir19/faccely-sub002/internal/validation"
)

// explain answers synchronously; advisory text is short and cheap.
func (a *api) explain(c *gin.Context) {
	req, ok := a.keyJSON(c)
	if !ok {
		return
	}
	var in validation.ExplainRequest
	if err := validation.BindAndValidate(c, &in, a.v); err != nil {
		return
	}
	key, owned := a.resolve(c, req)
	if !owned {
		return
	}

	res, err := a.cfg.Generator.Explain(c.Request.Context(), generation.ExplainInput{
		Metric:  in.Metric,
		Score:   *in.Score,
		Context: in.Context,
	})
	if err != nil {
		a.abandon(c, key)
		a.fail(c, err)
		return
	}
	body, err := jobs.Encode(jobs.Result{Kind: jobs.KindExplain, Explain: res})
	if err != nil {
		a.abandon(c, key)
		a.fail(c, err)
		return
	}
	a.complete(c, key, body)
}

// routine always runs as a job. Without the shared store there is no safe
// way to deduplicate a long job across instances, so it is refused.
func (a *api) routine(c *gin.Context) {
	req, ok := a.keyJSON(c)
	if !ok {
		return
	}
	var in validation.RoutineRequest
	if err := validation.BindAndValidate(c, &in, a.v); err != nil {
		return
	}
	if a.cfg.Degraded() {
		a.fail(c, apperr.New(apperr.CodeStoreUnavailable, "routine needs the shared store", nil))
		return
	}
	key, owned := a.resolve(c, req)
	if !owned {
		return
	}
	a.enqueue(c, key, jobs.QueueRoutine, jobs.RoutinePayload{
		Goal:   in.Goal,
		Focus:  in.Focus,
		Scores: in.Scores,
	})
}

// keyJSON caches a JSON body and echoes its idempotency key before the body
// is validated.
func (a *api) keyJSON(c *gin.Context) (idempotency.Request, bool) {
	echoClientKey(c)
	body, err := validation.CacheBody(c)
	if err != nil {
		a.fail(c, apperr.New(apperr.CodeInvalidRequest, "read body", err))
		return idempotency.Request{}, false
	}
	req := fingerprint(c, body, nil)
	c.Header(idempotency.HeaderKey, idempotency.Key(req))
	return req, true
}

// analyze takes a required frontal image and an optional side image, as
// multipart file parts or as base64 fields (frontal_b64, side_b64) in a
// multipart form or a JSON body. It runs as a job, or inline while degraded.
func (a *api) analyze(c *gin.Context) {
	echoClientKey(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.cfg.MaxUploadBytes)

	in, err := a.readAnalyze(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	req := fingerprint(c, in.body, in.parts())
	c.Header(idempotency.HeaderKey, idempotency.Key(req))

	frontal, err := in.image("frontal", true, a.cfg.MaxUploadBytes)
	if err != nil {
		a.fail(c, err)
		return
	}
	side, err := in.image("side", false, a.cfg.MaxUploadBytes)
	if err != nil {
		a.fail(c, err)
		return
	}

	key, owned := a.resolve(c, req)
	if !owned {
		return
	}

	payload := jobs.AnalyzePayload{Frontal: *frontal, Side: side}
	if !a.cfg.Degraded() {
		a.enqueue(c, key, jobs.QueueAnalyze, payload)
		return
	}

	a.cfg.Logger.Warn().Str("idempotency_key", key).Msg("coordination store degraded, analyzing inline")
	gen := generation.AnalyzeInput{Frontal: provider.Image{MIMEType: frontal.MIMEType, Data: frontal.Data}}
	if side != nil {
		gen.Side = &provider.Image{MIMEType: side.MIMEType, Data: side.Data}
	}
	res, err := a.cfg.Generator.Analyze(c.Request.Context(), gen)
	if err != nil {
		a.abandon(c, key)
		a.fail(c, err)
		return
	}
	body, err := jobs.Encode(jobs.Result{Kind: jobs.KindAnalyze, Analyze: res})
	if err != nil {
		a.abandon(c, key)
		a.fail(c, err)
		return
	}
	a.complete(c, key, body)
}

// echoClientKey returns a client-supplied key even when the request is
// rejected before it can be fingerprinted.
func echoClientKey(c *gin.Context) {
	if k := c.GetHeader(idempotency.HeaderKey); strings.TrimSpace(k) != "" {
		c.Header(idempotency.HeaderKey, k)
	}
}

var imageFields = []string{"frontal", "side"}

type rawImage struct {
	filename string
	data     []byte
}

// analyzeInput holds the images of an analyze request before their types
// are checked, so the request can be fingerprinted first.
type analyzeInput struct {
	images map[string]rawImage
	body   []byte
}

func (in *analyzeInput) parts() []idempotency.Part {
	var parts []idempotency.Part
	for _, field := range imageFields {
		img, ok := in.images[field]
		if !ok {
			continue
		}
		parts = append(parts, idempotency.Part{
			Field:     field,
			Filename:  img.filename,
			MediaType: http.DetectContentType(img.data),
			Data:      img.data,
		})
	}
	return parts
}

func (in *analyzeInput) image(field string, required bool, maxBytes int64) (*jobs.Image, error) {
	img, ok := in.images[field]
	if !ok {
		if required {
			return nil, apperr.New(apperr.CodeInvalidRequest, field+" image is required", nil)
		}
		return nil, nil
	}
	mt, err := validation.ImageType(img.data, maxBytes)
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidRequest, fmt.Sprintf("%s: %v", field, err), err)
	}
	return &jobs.Image{MIMEType: mt, Data: img.data}, nil
}

func (a *api) readAnalyze(c *gin.Context) (*analyzeInput, error) {
	in := &analyzeInput{images: make(map[string]rawImage, len(imageFields))}

	if c.ContentType() == binding.MIMEJSON {
		var req validation.AnalyzeRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			return nil, apperr.New(apperr.CodeInvalidRequest, "request body is not valid JSON", err)
		}
		for field, enc := range map[string]string{"frontal": req.FrontalB64, "side": req.SideB64} {
			if enc == "" {
				continue
			}
			data, err := validation.DecodeImageData(enc)
			if err != nil {
				return nil, apperr.New(apperr.CodeInvalidRequest, field+"_b64: "+err.Error(), err)
			}
			in.images[field] = rawImage{data: data}
		}
		return in, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperr.New(apperr.CodeInvalidRequest, "multipart form or JSON body expected", err)
	}
	for _, field := range imageFields {
		img, err := readFormImage(form, field)
		if err != nil {
			return nil, err
		}
		if img != nil {
			in.images[field] = *img
		}
	}
	in.body = formValues(form)
	return in, nil
}

// readFormImage reads field as a file part or as its base64 text field.
func readFormImage(form *multipart.Form, field string) (*rawImage, error) {
	files := form.File[field]
	encoded := form.Value[field+"_b64"]

	switch {
	case len(files) > 0 && len(encoded) > 0:
		return nil, apperr.New(apperr.CodeInvalidRequest, "send "+field+" as a file or as "+field+"_b64, not both", nil)
	case len(files) > 1 || len(encoded) > 1:
		return nil, apperr.New(apperr.CodeInvalidRequest, "one "+field+" image expected", nil)
	case len(encoded) == 1:
		data, err := validation.DecodeImageData(encoded[0])
		if err != nil {
			return nil, apperr.New(apperr.CodeInvalidRequest, field+"_b64: "+err.Error(), err)
		}
		return &rawImage{data: data}, nil
	case len(files) == 1:
		fh := files[0]
		f, err := fh.Open()
		if err != nil {
			return nil, apperr.New(apperr.CodeInvalidRequest, "read "+field, err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, apperr.New(apperr.CodeInvalidRequest, "read "+field, err)
		}
		return &rawImage{filename: fh.Filename, data: data}, nil
	}
	return nil, nil
}

// formValues renders the non-image form fields as canonical JSON so they
// take part in the fingerprint. Base64 images are fingerprinted as parts.
func formValues(form *multipart.Form) []byte {
	keys := make([]string, 0, len(form.Value))
	for k := range form.Value {
		if strings.HasSuffix(k, "_b64") {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	ordered := make(map[string][]string, len(keys))
	for _, k := range keys {
		ordered[k] = form.Value[k]
	}
	b, _ := json.Marshal(ordered)
	return b
}
