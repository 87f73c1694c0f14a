// Package catalog provides the read-only course and procedure catalog and
// tracks how often each procedure is opened.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/ashureev/student-desk/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultCourseID is used when a user never picked a course.
const DefaultCourseID = "1"

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the static course to procedure mapping.
type Catalog struct {
	courses    []domain.Course
	courseByID map[string]domain.Course
	procByID   map[string]domain.Procedure
}

type catalogFile struct {
	Courses    []domain.Course    `yaml:"courses"`
	Procedures []domain.Procedure `yaml:"procedures"`
}

// Load reads the catalog from path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		data = raw
	}
	return Parse(data)
}

// Parse builds a catalog from YAML and checks that every course references
// known procedures.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Courses) == 0 {
		return nil, fmt.Errorf("catalog has no courses")
	}

	c := &Catalog{
		courses:    file.Courses,
		courseByID: make(map[string]domain.Course, len(file.Courses)),
		procByID:   make(map[string]domain.Procedure, len(file.Procedures)),
	}
	for _, p := range file.Procedures {
		if p.ID == "" {
			return nil, fmt.Errorf("procedure without id")
		}
		c.procByID[p.ID] = p
	}
	for _, course := range file.Courses {
		if _, dup := c.courseByID[course.ID]; dup {
			return nil, fmt.Errorf("duplicate course %q", course.ID)
		}
		for _, id := range course.Procedures {
			if _, ok := c.procByID[id]; !ok {
				return nil, fmt.Errorf("course %q references unknown procedure %q", course.ID, id)
			}
		}
		c.courseByID[course.ID] = course
	}
	return c, nil
}

// Courses returns every course in catalog order.
func (c *Catalog) Courses() []domain.Course {
	return c.courses
}

// Course looks up a course by ID.
func (c *Catalog) Course(id string) (domain.Course, bool) {
	course, ok := c.courseByID[id]
	return course, ok
}

// Procedure looks up a procedure by ID.
func (c *Catalog) Procedure(id string) (domain.Procedure, bool) {
	p, ok := c.procByID[id]
	return p, ok
}

// ProceduresFor returns the procedures of a course in catalog order.
func (c *Catalog) ProceduresFor(courseID string) []domain.Procedure {
	course, ok := c.courseByID[courseID]
	if !ok {
		return nil
	}
	out := make([]domain.Procedure, 0, len(course.Procedures))
	for _, id := range course.Procedures {
		out = append(out, c.procByID[id])
	}
	return out
}
