package repository

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/vellum-cms/vellum/internal/errors"
	"github.com/vellum-cms/vellum/internal/types"
)

// FileRepository serves content nodes, templates and slots from YAML
// documents on disk:
//
//	<root>/items/<id>.yaml
//	<root>/templates/<id>.yaml
//	<root>/slots/<id>.yaml
//
// It reads from disk on every call; caching sits above it in the
// resolver and the content cache, which the repository watcher keeps
// honest.
type FileRepository struct {
	root string
}

// NewFileRepository creates a repository rooted at dir.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{root: dir}
}

type itemDoc struct {
	ID          string            `yaml:"id"`
	Revision    int               `yaml:"revision"`
	ContentType string            `yaml:"content_type"`
	Public      *bool             `yaml:"public"`
	Fields      map[string]string `yaml:"fields"`
	BinaryFile  string            `yaml:"binary_file"`
}

type templateDoc struct {
	ID           string       `yaml:"id"`
	Name         string       `yaml:"name"`
	Assembler    string       `yaml:"assembler"`
	OutputFormat string       `yaml:"output_format"`
	AAType       string       `yaml:"aa_type"`
	MimeType     string       `yaml:"mimetype"`
	Charset      string       `yaml:"charset"`
	ContentTypes []string     `yaml:"content_types"`
	Bindings     []bindingDoc `yaml:"bindings"`
	Slots        []string     `yaml:"slots"`
	Body         string       `yaml:"body"`
}

type bindingDoc struct {
	Variable   string `yaml:"variable"`
	Expression string `yaml:"expression"`
	Order      int    `yaml:"order"`
}

type slotDoc struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Finder           string `yaml:"finder"`
	RelationshipType string `yaml:"relationship_type"`
}

func (r *FileRepository) readDoc(kind, id string, out any) error {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(r.root, kind, id+ext)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return errors.NewRepositoryError("read_failed", "reading "+path, err)
		}
		if err := yaml.Unmarshal(data, out); err != nil {
			return errors.NewRepositoryError("parse_failed", "parsing "+path, err)
		}
		return nil
	}
	return errors.NewResolutionError(kind+"_not_found", kind+" "+id+" not found")
}

// LoadNode implements ContentRepository.
func (r *FileRepository) LoadNode(ctx context.Context, id string, revision int) (*types.ContentNode, error) {
	var doc itemDoc
	if err := r.readDoc("items", id, &doc); err != nil {
		return nil, err
	}

	node := &types.ContentNode{
		ID:          doc.ID,
		Revision:    doc.Revision,
		ContentType: doc.ContentType,
		Fields:      doc.Fields,
		Public:      doc.Public == nil || *doc.Public,
	}
	if node.ID == "" {
		node.ID = id
	}
	if node.Fields == nil {
		node.Fields = make(map[string]string)
	}

	if doc.BinaryFile != "" {
		data, err := os.ReadFile(filepath.Join(r.root, "items", doc.BinaryFile))
		if err != nil {
			return nil, errors.NewRepositoryError("binary_read_failed",
				"reading binary for item "+id, err)
		}
		node.Binary = data
	}

	return node, nil
}

// ContentTypes implements ContentRepository with one directory pass.
func (r *FileRepository) ContentTypes(ctx context.Context, ids []string) (map[string]string, error) {
	result := make(map[string]string, len(ids))
	for _, id := range ids {
		var doc itemDoc
		if err := r.readDoc("items", id, &doc); err != nil {
			continue
		}
		result[id] = doc.ContentType
	}
	return result, nil
}

// Exists implements ContentRepository.
func (r *FileRepository) Exists(ctx context.Context, id string) (bool, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		if _, err := os.Stat(filepath.Join(r.root, "items", id+ext)); err == nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *FileRepository) template(doc *templateDoc) *types.Template {
	t := &types.Template{
		ID:           doc.ID,
		Name:         doc.Name,
		Assembler:    doc.Assembler,
		MimeType:     doc.MimeType,
		Charset:      doc.Charset,
		ContentTypes: doc.ContentTypes,
		SlotIDs:      doc.Slots,
		Body:         doc.Body,
	}

	switch doc.OutputFormat {
	case "snippet":
		t.OutputFormat = types.OutputFormatSnippet
	case "global":
		t.OutputFormat = types.OutputFormatGlobal
	case "binary":
		t.OutputFormat = types.OutputFormatBinary
	default:
		t.OutputFormat = types.OutputFormatPage
	}
	if doc.AAType == "non-html" {
		t.AAType = types.ActiveAssemblyNonHTML
	}
	if t.Assembler == "" {
		t.Assembler = "template"
	}
	if t.MimeType == "" {
		t.MimeType = "text/html"
	}
	if t.Charset == "" {
		t.Charset = "utf-8"
	}

	for _, b := range doc.Bindings {
		t.Bindings = append(t.Bindings, types.Binding{
			Variable:   b.Variable,
			Expression: b.Expression,
			Order:      b.Order,
		})
	}
	// Stored order is the evaluation order.
	sort.SliceStable(t.Bindings, func(i, j int) bool {
		return t.Bindings[i].Order < t.Bindings[j].Order
	})

	return t
}

// TemplateByID implements TemplateRepository.
func (r *FileRepository) TemplateByID(ctx context.Context, id string) (*types.Template, error) {
	var doc templateDoc
	if err := r.readDoc("templates", id, &doc); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return r.template(&doc), nil
}

// TemplateByName implements TemplateRepository by scanning the
// templates directory.
func (r *FileRepository) TemplateByName(ctx context.Context, name string) (*types.Template, error) {
	t, err := r.scanTemplates(func(doc *templateDoc) bool {
		return doc.Name == name
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.NewResolutionError("template_not_found", "template "+name+" not found")
	}
	return t, nil
}

// FindTemplate implements TemplateRepository lookup by (name, content
// type) pair.
func (r *FileRepository) FindTemplate(ctx context.Context, name, contentType string) (*types.Template, error) {
	t, err := r.scanTemplates(func(doc *templateDoc) bool {
		if doc.Name != name {
			return false
		}
		if len(doc.ContentTypes) == 0 {
			return true
		}
		for _, ct := range doc.ContentTypes {
			if ct == contentType {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.NewResolutionError("template_not_found",
			"no template "+name+" for content type "+contentType)
	}
	return t, nil
}

func (r *FileRepository) scanTemplates(match func(*templateDoc) bool) (*types.Template, error) {
	dir := filepath.Join(r.root, "templates")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewRepositoryError("scan_failed", "reading "+dir, err)
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var doc templateDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			continue
		}
		if doc.ID == "" {
			doc.ID = entry.Name()[:len(entry.Name())-len(ext)]
		}
		if match(&doc) {
			return r.template(&doc), nil
		}
	}
	return nil, nil
}

// SlotByID implements SlotRepository.
func (r *FileRepository) SlotByID(ctx context.Context, id string) (*types.Slot, error) {
	var doc slotDoc
	if err := r.readDoc("slots", id, &doc); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return &types.Slot{
		ID:               doc.ID,
		Name:             doc.Name,
		Finder:           doc.Finder,
		RelationshipType: doc.RelationshipType,
	}, nil
}
