package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	mistralBaseURL  = "https://api.mistral.ai/v1"
	mistralOCRModel = "mistral-ocr-latest"
)

var ocrMimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// MistralOCRTool extracts text from documents through Mistral's OCR API.
// PDFs and DOCX files go through the upload + signed URL flow; images are
// sent inline as data URLs.
type MistralOCRTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewMistralOCRTool creates the mistral_ocr builtin. An empty API key is
// allowed at construction; invocations then fail with a configuration
// error.
func NewMistralOCRTool(apiKey string) *MistralOCRTool {
	return &MistralOCRTool{
		apiKey:  apiKey,
		baseURL: mistralBaseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (t *MistralOCRTool) Name() string { return "mistral_ocr" }

func (t *MistralOCRTool) Description() string {
	return "Process a document (PDF, DOCX, or image) using Mistral AI's OCR. " +
		"Returns extracted text as markdown and base64-encoded images. " +
		"Supports: PDF, DOCX, PNG, JPG, JPEG, WEBP."
}

func (t *MistralOCRTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the document file (PDF, DOCX, PNG, JPG, JPEG, WEBP)",
			},
			"include_images": map[string]interface{}{
				"type":        "boolean",
				"description": "Whether to extract and return images (default: true)",
				"default":     true,
			},
			"pages": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "integer"},
				"description": "Specific page numbers to process (1-indexed). If not provided, all pages are processed.",
			},
		},
		"required": []interface{}{"file_path"},
	}
}

func (t *MistralOCRTool) Invoke(ctx context.Context, args map[string]interface{}) *Result {
	if t.apiKey == "" {
		return Errorf("MISTRAL_API_KEY not configured")
	}

	filePath, _ := args["file_path"].(string)
	if filePath == "" {
		return Errorf("file_path is required")
	}
	includeImages := true
	if v, ok := args["include_images"].(bool); ok {
		includeImages = v
	}
	var pages []int
	if raw, ok := args["pages"].([]interface{}); ok {
		for _, p := range raw {
			if f, ok := p.(float64); ok {
				pages = append(pages, int(f))
			}
		}
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return Errorf("file not found: %s", filePath)
	}
	ext := strings.ToLower(filepath.Ext(filePath))
	mimeType, ok := ocrMimeTypes[ext]
	if !ok {
		supported := make([]string, 0, len(ocrMimeTypes))
		for e := range ocrMimeTypes {
			supported = append(supported, e)
		}
		sort.Strings(supported)
		return Errorf("unsupported file type: %s, supported: %s", ext, strings.Join(supported, ", "))
	}

	var document map[string]interface{}
	if ext == ".pdf" || ext == ".docx" {
		signedURL, err := t.uploadForOCR(ctx, filepath.Base(filePath), content)
		if err != nil {
			return Errorf("OCR processing failed: %v", err)
		}
		document = map[string]interface{}{
			"type":         "document_url",
			"document_url": signedURL,
		}
	} else {
		document = map[string]interface{}{
			"type":      "image_url",
			"image_url": fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(content)),
		}
	}

	ocr, err := t.process(ctx, document, includeImages)
	if err != nil {
		return Errorf("OCR processing failed: %v", err)
	}

	selected := ocr.Pages
	if len(pages) > 0 {
		selected = selected[:0:0]
		for _, p := range pages {
			if p >= 1 && p <= len(ocr.Pages) {
				selected = append(selected, ocr.Pages[p-1])
			}
		}
	}

	var markdownParts []string
	var images []map[string]interface{}
	for i, page := range selected {
		pageNum := i + 1
		if len(pages) > 0 && i < len(pages) {
			pageNum = pages[i]
		}
		markdownParts = append(markdownParts, fmt.Sprintf("## Page %d\n\n%s", pageNum, page.Markdown))
		if includeImages {
			for imgIdx, img := range page.Images {
				id := img.ID
				if id == "" {
					id = fmt.Sprintf("img_%d_%d", pageNum, imgIdx)
				}
				images = append(images, map[string]interface{}{
					"page":   pageNum,
					"index":  imgIdx,
					"id":     id,
					"base64": img.ImageBase64,
				})
			}
		}
	}
	if images == nil {
		images = []map[string]interface{}{}
	}

	return Ok(map[string]interface{}{
		"markdown":        strings.Join(markdownParts, "\n\n"),
		"total_pages":     len(ocr.Pages),
		"processed_pages": len(selected),
		"images":          images,
		"file_name":       filepath.Base(filePath),
	})
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

type ocrPage struct {
	Index    int        `json:"index"`
	Markdown string     `json:"markdown"`
	Images   []ocrImage `json:"images"`
}

type ocrImage struct {
	ID          string `json:"id"`
	ImageBase64 string `json:"image_base64"`
}

// uploadForOCR uploads the document and returns a signed URL for the OCR
// endpoint to fetch it from.
func (t *MistralOCRTool) uploadForOCR(ctx context.Context, fileName string, content []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "ocr"); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := t.do(req, &uploaded); err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}

	urlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/files/"+uploaded.ID+"/url", nil)
	if err != nil {
		return "", err
	}
	urlReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	var signed struct {
		URL string `json:"url"`
	}
	if err := t.do(urlReq, &signed); err != nil {
		return "", fmt.Errorf("signed url failed: %w", err)
	}
	return signed.URL, nil
}

func (t *MistralOCRTool) process(ctx context.Context, document map[string]interface{}, includeImages bool) (*ocrResponse, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":                mistralOCRModel,
		"document":             document,
		"include_image_base64": includeImages,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var ocr ocrResponse
	if err := t.do(req, &ocr); err != nil {
		return nil, err
	}
	return &ocr, nil
}

func (t *MistralOCRTool) do(req *http.Request, out interface{}) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mistral API returned %d: %s", resp.StatusCode, truncateForError(string(data)))
	}
	return json.Unmarshal(data, out)
}

func truncateForError(s string) string {
	if len(s) > 500 {
		return s[:500] + "..."
	}
	return s
}
