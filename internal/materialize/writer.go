package materialize

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// Entity references used by the scenario template.
const (
	EgoEntity = "ego"
	NPCEntity = "Npc1"
)

// #region writer
// Writer renders scenarios from an OpenSCENARIO YAML template.
type Writer struct {
	template []byte
	now      func() time.Time
}

// NewWriter loads the template at path.
func NewWriter(path string) (*Writer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	return NewWriterFromBytes(data)
}

// NewWriterFromBytes uses data as the template. The template must contain an
// ego and an Npc1 private init action.
func NewWriterFromBytes(data []byte) (*Writer, error) {
	w := &Writer{template: data, now: time.Now}
	if _, err := w.Render(0, scenario.Params{}); err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}
	return w, nil
}

// FileName is the index-ordered name of the i-th scenario of a batch.
func FileName(i int) string {
	return fmt.Sprintf("scenario_%d.yaml", i)
}

// BatchDir is the archive directory of one population member.
func BatchDir(base string, generation, member int) string {
	return filepath.Join(base, fmt.Sprintf("batch_gen%d_%d", generation, member))
}

// #endregion writer

// #region render
// Render returns the template with both vehicles' start and destination lane
// positions replaced by p.
func (w *Writer) Render(index int, p scenario.Params) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(w.template, &doc); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("template is empty")
	}
	root := doc.Content[0]

	if header, err := lookup(root, "OpenSCENARIO", "FileHeader"); err == nil {
		setString(header, "date", w.now().UTC().Format("2006-01-02T15:04:05.000Z"))
		setString(header, "description", fmt.Sprintf("Mined scenario for AV safety validation - scenario %d", index))
	}

	privates, err := lookup(root, "OpenSCENARIO", "Storyboard", "Init", "Actions", "Private")
	if err != nil {
		return nil, err
	}
	if privates.Kind != yaml.SequenceNode {
		return nil, errors.New("Private is not a sequence")
	}

	found := map[string]bool{}
	for _, item := range privates.Content {
		ref := child(item, "entityRef")
		if ref == nil {
			continue
		}
		switch ref.Value {
		case EgoEntity:
			err = setPositions(item, p.EgoStartLane, p.EgoStartS, p.EgoDestLane, p.EgoDestS)
		case NPCEntity:
			err = setPositions(item, p.NPCStartLane, p.NPCStartS, p.NPCDestLane, p.NPCDestS)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", ref.Value, err)
		}
		found[ref.Value] = true
	}
	for _, e := range []string{EgoEntity, NPCEntity} {
		if !found[e] {
			return nil, fmt.Errorf("template has no init action for entity %s", e)
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode scenario: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode scenario: %w", err)
	}
	return buf.Bytes(), nil
}

// setPositions edits PrivateAction[0] (teleport) and PrivateAction[1] (routing).
func setPositions(item *yaml.Node, startLane string, startS float64, destLane string, destS float64) error {
	actions := child(item, "PrivateAction")
	if actions == nil || actions.Kind != yaml.SequenceNode || len(actions.Content) < 2 {
		return errors.New("expected teleport and routing private actions")
	}
	start, err := lookup(actions.Content[0], "TeleportAction", "Position", "LanePosition")
	if err != nil {
		return err
	}
	dest, err := lookup(actions.Content[1], "RoutingAction", "AcquirePositionAction", "Position", "LanePosition")
	if err != nil {
		return err
	}
	setString(start, "laneId", startLane)
	setFloat(start, "s", startS)
	setString(dest, "laneId", destLane)
	setFloat(dest, "s", destS)
	return nil
}

// #endregion render

// #region write-batch
// WriteBatch renders every scenario of batch into dir as scenario_{i}.yaml
// and returns the written paths in index order. A scenario that fails to
// render is skipped and reported in the joined error; the others are still
// written under their own index.
func (w *Writer) WriteBatch(dir string, batch scenario.Batch) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	paths := make([]string, 0, len(batch))
	var errs []error
	for i, p := range batch {
		data, err := w.Render(i, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario %d: %w", i, err))
			continue
		}
		path := filepath.Join(dir, FileName(i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("scenario %d: %w", i, err))
			continue
		}
		paths = append(paths, path)
	}
	return paths, errors.Join(errs...)
}

// ClearDir removes scenario YAML files left in dir by an earlier batch.
func ClearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// #endregion write-batch

// #region nodes
func child(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func lookup(n *yaml.Node, keys ...string) (*yaml.Node, error) {
	cur := n
	for i, k := range keys {
		cur = child(cur, k)
		if cur == nil {
			return nil, fmt.Errorf("template missing %s", strings.Join(keys[:i+1], "."))
		}
	}
	return cur, nil
}

func setScalar(n *yaml.Node, key, tag, value string) {
	if v := child(n, key); v != nil {
		v.Kind = yaml.ScalarNode
		v.Tag = tag
		v.Value = value
		return
	}
	n.Content = append(n.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value},
	)
}

func setString(n *yaml.Node, key, value string) {
	setScalar(n, key, "!!str", value)
}

func setFloat(n *yaml.Node, key string, value float64) {
	s := strconv.FormatFloat(value, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	setScalar(n, key, "!!float", s)
}

// #endregion nodes
