package manifest

import (
	"log"
	"time"

	"github.com/pannadata/consolidator/storage"
)

// Rebuild derives a manifest from the partition files of categories. Every
// entity seen in any category gets an entry; entities without the primary
// category are marked unavailable, since the partitions carry no dates to
// apply the freshness rule with.
func Rebuild(reader *storage.PartitionReader, primary, entityField string, categories []string, now time.Time) (*Manifest, error) {
	seen := make(map[Key]map[string]bool)
	var order []Key

	for _, category := range categories {
		coords, err := reader.Coordinates(category)
		if err != nil {
			return nil, err
		}
		found := 0
		for _, coord := range coords {
			scanner, err := reader.Scan(coord)
			if err != nil {
				return nil, err
			}
			for scanner.Next() {
				b := scanner.Batch()
				if !b.Schema().Has(entityField) {
					continue
				}
				for _, id := range b.Distinct(entityField) {
					k := Key{EntityID: id, Group: b.Coordinate.Group, SubGroup: b.Coordinate.SubGroup}
					flags, ok := seen[k]
					if !ok {
						flags = make(map[string]bool)
						seen[k] = flags
						order = append(order, k)
					}
					if !flags[category] {
						flags[category] = true
						found++
					}
				}
			}
		}
		log.Printf("action: manifest_rebuild_scan | result: success | category: %s | coordinates: %d | entities: %d",
			category, len(coords), found)
	}

	m := New(primary)
	for _, k := range order {
		flags := seen[k]
		for _, c := range categories {
			if _, ok := flags[c]; !ok {
				flags[c] = false
			}
		}
		m.Upsert(Entry{
			EntityID:    k.EntityID,
			Group:       k.Group,
			SubGroup:    k.SubGroup,
			Flags:       flags,
			Unavailable: !flags[primary],
			UpdatedAt:   now,
		})
	}
	return m, nil
}
