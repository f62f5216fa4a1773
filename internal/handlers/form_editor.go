package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/apollo-lhc/cmtestgo/internal/forms"
	"github.com/gorilla/mux"
)

// errPageZero guards the reserved serial-capture page against edits.
var errPageZero = errors.New("the serial number page cannot be modified")

// listForms returns the full current form configuration.
func (r *Router) listForms(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.schema.Current())
}

type pageRequest struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// addPage appends a new empty page to the wizard.
func (r *Router) addPage(w http.ResponseWriter, req *http.Request) {
	var body pageRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		respondError(w, http.StatusBadRequest, "Page name is required")
		return
	}

	err := r.schema.Update(func(s *forms.Schema) error {
		for _, p := range s.Pages {
			if p.Name == body.Name {
				return fmt.Errorf("a page named %q already exists", body.Name)
			}
		}
		label := body.Label
		if label == "" {
			label = body.Name
		}
		s.Pages = append(s.Pages, forms.FormPage{Name: body.Name, Label: label})
		return nil
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("📝 Form page added: %s", body.Name)
	respondJSON(w, http.StatusCreated, r.schema.Current())
}

// deletePage removes a page and its fields. Page 0 is reserved.
func (r *Router) deletePage(w http.ResponseWriter, req *http.Request) {
	idx, err := pageIndex(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page index")
		return
	}

	err = r.schema.Update(func(s *forms.Schema) error {
		if idx == 0 {
			return errPageZero
		}
		if idx >= len(s.Pages) {
			return errors.New("page does not exist")
		}
		s.Pages = append(s.Pages[:idx], s.Pages[idx+1:]...)
		return nil
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, r.schema.Current())
}

// renamePage updates a page's name and/or label.
func (r *Router) renamePage(w http.ResponseWriter, req *http.Request) {
	idx, err := pageIndex(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page index")
		return
	}
	var body pageRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err = r.schema.Update(func(s *forms.Schema) error {
		if idx == 0 {
			return errPageZero
		}
		if idx >= len(s.Pages) {
			return errors.New("page does not exist")
		}
		if name := strings.TrimSpace(body.Name); name != "" {
			for i, p := range s.Pages {
				if i != idx && p.Name == name {
					return fmt.Errorf("a page named %q already exists", name)
				}
			}
			s.Pages[idx].Name = name
		}
		if body.Label != "" {
			s.Pages[idx].Label = body.Label
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, r.schema.Current())
}

// movePage shifts a page one position up or down. Page 0 stays put and
// nothing can move into its place.
func (r *Router) movePage(w http.ResponseWriter, req *http.Request) {
	idx, err := pageIndex(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page index")
		return
	}
	dir := mux.Vars(req)["direction"]

	err = r.schema.Update(func(s *forms.Schema) error {
		if idx == 0 {
			return errPageZero
		}
		if idx >= len(s.Pages) {
			return errors.New("page does not exist")
		}
		target, err := moveTarget(idx, dir, len(s.Pages))
		if err != nil {
			return err
		}
		if target == 0 {
			return errPageZero
		}
		s.Pages[idx], s.Pages[target] = s.Pages[target], s.Pages[idx]
		return nil
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, r.schema.Current())
}

// previewPage returns one page the way the wizard would render it.
func (r *Router) previewPage(w http.ResponseWriter, req *http.Request) {
	idx, err := pageIndex(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page index")
		return
	}
	schema := r.schema.Current()
	if idx >= schema.PageCount() {
		respondError(w, http.StatusNotFound, "Page does not exist")
		return
	}
	respondJSON(w, http.StatusOK, r.viewFor(schema, idx, nil, nil, nil, false))
}

// addField appends a field to a page.
func (r *Router) addField(w http.ResponseWriter, req *http.Request) {
	idx, err := pageIndex(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page index")
		return
	}
	var field forms.FormField
	if err := json.NewDecoder(req.Body).Decode(&field); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := checkField(&field); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = r.schema.Update(func(s *forms.Schema) error {
		if idx == 0 {
			return errPageZero
		}
		if idx >= len(s.Pages) {
			return errors.New("page does not exist")
		}
		if field.Name != "" {
			for _, f := range s.AllFields() {
				if f.Name == field.Name {
					return fmt.Errorf("a field named %q already exists", field.Name)
				}
			}
		}
		s.Pages[idx].Fields = append(s.Pages[idx].Fields, field)
		return nil
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, r.schema.Current())
}

// editField replaces a field in place, keeping its position.
func (r *Router) editField(w http.ResponseWriter, req *http.Request) {
	pIdx, fIdx, err := fieldIndexes(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page or field index")
		return
	}
	var field forms.FormField
	if err := json.NewDecoder(req.Body).Decode(&field); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := checkField(&field); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = r.schema.Update(func(s *forms.Schema) error {
		if pIdx == 0 {
			return errPageZero
		}
		if pIdx >= len(s.Pages) || fIdx >= len(s.Pages[pIdx].Fields) {
			return errors.New("field does not exist")
		}
		if field.Name != "" {
			for i, p := range s.Pages {
				for j, f := range p.Fields {
					if (i != pIdx || j != fIdx) && f.Name == field.Name {
						return fmt.Errorf("a field named %q already exists", field.Name)
					}
				}
			}
		}
		s.Pages[pIdx].Fields[fIdx] = field
		return nil
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, r.schema.Current())
}

// deleteField removes a field from a page.
func (r *Router) deleteField(w http.ResponseWriter, req *http.Request) {
	pIdx, fIdx, err := fieldIndexes(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page or field index")
		return
	}

	err = r.schema.Update(func(s *forms.Schema) error {
		if pIdx == 0 {
			return errPageZero
		}
		if pIdx >= len(s.Pages) || fIdx >= len(s.Pages[pIdx].Fields) {
			return errors.New("field does not exist")
		}
		fields := s.Pages[pIdx].Fields
		s.Pages[pIdx].Fields = append(fields[:fIdx], fields[fIdx+1:]...)
		return nil
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, r.schema.Current())
}

// moveField shifts a field one position up or down within its page.
func (r *Router) moveField(w http.ResponseWriter, req *http.Request) {
	pIdx, fIdx, err := fieldIndexes(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page or field index")
		return
	}
	dir := mux.Vars(req)["direction"]

	err = r.schema.Update(func(s *forms.Schema) error {
		if pIdx == 0 {
			return errPageZero
		}
		if pIdx >= len(s.Pages) || fIdx >= len(s.Pages[pIdx].Fields) {
			return errors.New("field does not exist")
		}
		fields := s.Pages[pIdx].Fields
		target, err := moveTarget(fIdx, dir, len(fields))
		if err != nil {
			return err
		}
		fields[fIdx], fields[target] = fields[target], fields[fIdx]
		return nil
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, r.schema.Current())
}

// resetForms restores the built-in default form configuration.
func (r *Router) resetForms(w http.ResponseWriter, req *http.Request) {
	if err := r.schema.Reset(); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to reset form configuration")
		return
	}
	log.Println("📝 Form configuration reset to defaults")
	respondJSON(w, http.StatusOK, r.schema.Current())
}

// downloadFormConfig serves the persisted configuration file as a download.
func (r *Router) downloadFormConfig(w http.ResponseWriter, req *http.Request) {
	data, err := os.ReadFile(r.schema.Path())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read form configuration")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=forms_config.json")
	w.Write(data)
}

func checkField(f *forms.FormField) error {
	f.Name = strings.TrimSpace(f.Name)
	if !forms.ValidKind(f.Kind) {
		return fmt.Errorf("unknown field kind %q", f.Kind)
	}
	if f.TakesInput() && f.Name == "" {
		return errors.New("input fields need a name")
	}
	if f.Validator != "" && forms.LookupValidator(f.Validator) == nil {
		return fmt.Errorf("unknown validator %q", f.Validator)
	}
	return nil
}

func moveTarget(idx int, direction string, length int) (int, error) {
	switch direction {
	case "up":
		if idx == 0 {
			return 0, errors.New("already first")
		}
		return idx - 1, nil
	case "down":
		if idx >= length-1 {
			return 0, errors.New("already last")
		}
		return idx + 1, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", direction)
	}
}

func pageIndex(req *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(req)["page"])
}

func fieldIndexes(req *http.Request) (int, int, error) {
	p, err := strconv.Atoi(mux.Vars(req)["page"])
	if err != nil {
		return 0, 0, err
	}
	f, err := strconv.Atoi(mux.Vars(req)["field"])
	if err != nil {
		return 0, 0, err
	}
	return p, f, nil
}
