package features

// Project returns a view of record limited to the selected features.
// The wildcard keeps every data key; an explicit selector keeps the
// intersection with the stored keys and silently drops the rest. Metadata
// is copied unchanged either way. The returned record never aliases the
// input's data map.
func Project(record *Record, selector Selector) Record {
	out := Record{
		EntityType:  record.EntityType,
		EntityValue: record.EntityValue,
		Category:    record.Category,
		Metadata:    copyMetadata(record.Metadata),
	}

	if selector.IsWildcard() {
		out.Data = make(map[string]interface{}, len(record.Data))
		for k, v := range record.Data {
			out.Data[k] = v
		}
		return out
	}

	out.Data = make(map[string]interface{}, len(selector.keys))
	for k := range selector.keys {
		if v, ok := record.Data[k]; ok {
			out.Data[k] = v
		}
	}
	return out
}

func copyMetadata(m Metadata) Metadata {
	if m.ComputeID != nil {
		id := *m.ComputeID
		m.ComputeID = &id
	}
	return m
}
