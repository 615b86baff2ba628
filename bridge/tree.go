package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/jmcleod/clinicdesk/ipc"
)

// ErrNoTree is returned by LoadTree when no candidate file is usable.
var ErrNoTree = errors.New("namespace tree not found")

// LoadTree reads the namespace tree from the first candidate path that
// exists and parses. It returns the tree and the path it came from.
func LoadTree(paths ...string) (ipc.Tree, string, error) {
	var errs []error
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var tree ipc.Tree
		if err := json.Unmarshal(data, &tree); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		return tree, p, nil
	}
	errs = append([]error{ErrNoTree}, errs...)
	return nil, "", errors.Join(errs...)
}

// FetchTree reads the namespace tree served by a running server at baseURL.
func FetchTree(ctx context.Context, baseURL string) (ipc.Tree, error) {
	url := strings.TrimRight(baseURL, "/") + "/ipc/channels"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching namespace tree: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetching namespace tree: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var tree ipc.Tree
	if err := json.NewDecoder(resp.Body).Decode(&tree); err != nil {
		return nil, fmt.Errorf("decoding namespace tree: %w", err)
	}
	return tree, nil
}
