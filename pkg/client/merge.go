package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// List transforms used by direct-merge reconciliation. Each is idempotent:
// applying the same payload twice yields the same bytes as applying it once.

func decodeList(data []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("cached value is not a list: %w", err)
	}
	return items, nil
}

func encodeList(items []json.RawMessage) ([]byte, error) {
	if items == nil {
		items = []json.RawMessage{}
	}
	return json.Marshal(items)
}

func itemID(item []byte) string {
	return gjson.GetBytes(item, "id").String()
}

func compact(item []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, item); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// upsertByID replaces the item with the same id or prepends it
func upsertByID(list, item []byte) ([]byte, error) {
	items, err := decodeList(list)
	if err != nil {
		return nil, err
	}
	item, err = compact(item)
	if err != nil {
		return nil, err
	}

	id := itemID(item)
	for i := range items {
		if itemID(items[i]) == id {
			items[i] = item
			return encodeList(items)
		}
	}
	return encodeList(append([]json.RawMessage{item}, items...))
}

// replaceByID replaces the item with the same id; a missing item is a no-op
func replaceByID(list, item []byte) ([]byte, error) {
	items, err := decodeList(list)
	if err != nil {
		return nil, err
	}
	item, err = compact(item)
	if err != nil {
		return nil, err
	}

	id := itemID(item)
	for i := range items {
		if itemID(items[i]) == id {
			items[i] = item
			return encodeList(items)
		}
	}
	return list, nil
}

// removeByID drops the item with id; a missing item is a no-op
func removeByID(list []byte, id string) ([]byte, error) {
	items, err := decodeList(list)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if itemID(items[i]) == id {
			return encodeList(append(items[:i], items[i+1:]...))
		}
	}
	return list, nil
}

// prependUnique prepends item unless its id is already present, keeping at
// most limit items
func prependUnique(list, item []byte, limit int) ([]byte, error) {
	items, err := decodeList(list)
	if err != nil {
		return nil, err
	}
	item, err = compact(item)
	if err != nil {
		return nil, err
	}

	id := itemID(item)
	for i := range items {
		if itemID(items[i]) == id {
			return list, nil
		}
	}
	items = append([]json.RawMessage{item}, items...)
	if len(items) > limit {
		items = items[:limit]
	}
	return encodeList(items)
}
