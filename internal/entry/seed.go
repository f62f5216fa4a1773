package entry

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/apollo-lhc/cmtestgo/internal/forms"
	"github.com/apollo-lhc/cmtestgo/internal/models"
	"gorm.io/datatypes"
)

// DummyEntry builds one finished demo entry with plausible data for every
// input field of the schema. Marked Dummy so it can be purged separately.
func DummyEntry(schema *forms.Schema) *models.TestEntry {
	data := datatypes.JSONMap{}
	for _, f := range schema.AllFields() {
		if !f.TakesInput() {
			continue
		}
		switch f.Kind {
		case forms.KindInteger:
			data[f.Name] = rand.Intn(100)
		case forms.KindFloat:
			data[f.Name] = float64(rand.Intn(1000)) / 10
		case forms.KindBoolean:
			if rand.Intn(10) == 0 {
				data[f.Name] = "no"
			} else {
				data[f.Name] = "yes"
			}
		case forms.KindFile:
			data[f.Name] = ""
		default:
			data[f.Name] = fmt.Sprintf("dummy_%s", f.Name)
		}
	}
	serial := forms.SerialMin + rand.Intn(forms.SerialMax-forms.SerialMin+1)
	data[schema.SerialFieldName()] = strconv.Itoa(serial)
	data[models.DataKeyLastStep] = schema.PageCount()

	return &models.TestEntry{
		Serial:       serial,
		Data:         data,
		Contributors: datatypes.NewJSONSlice([]string{"dummy_generator"}),
		IsFinished:   true,
		Dummy:        true,
		Timestamp:    time.Now().UTC().Add(-time.Duration(rand.Intn(72)) * time.Hour),
	}
}

// GenerateDummies creates count demo entries and returns their ids.
func (s *Service) GenerateDummies(schema *forms.Schema, count int) ([]uint, error) {
	ids := make([]uint, 0, count)
	for i := 0; i < count; i++ {
		e := DummyEntry(schema)
		if err := s.db.Create(e).Error; err != nil {
			return ids, err
		}
		ids = append(ids, e.ID)
	}
	return ids, nil
}
