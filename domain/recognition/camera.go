package recognition

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Camera roles. Entry cameras drive entry confirmation, exit cameras drive
// exit confirmation.
const (
	RoleEntry = "entry"
	RoleExit  = "exit"
)

// Camera is one configured video source. The topology is static: cameras
// are loaded at startup from the camera config file.
type Camera struct {
	ID       string `yaml:"id" json:"id"`
	CampusID string `yaml:"campus" json:"campusId"`
	TenantID string `yaml:"tenant" json:"tenantId"`
	Role     string `yaml:"role" json:"role"`
	Name     string `yaml:"name" json:"name"`
	Source   string `yaml:"source" json:"-"`
}

type cameraFile struct {
	Cameras []Camera `yaml:"cameras"`
}

// LoadCameras reads the camera topology from a YAML file.
func LoadCameras(path string) ([]Camera, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file cameraFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse camera config %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Cameras))
	for i := range file.Cameras {
		cam := &file.Cameras[i]
		if cam.ID == "" || cam.CampusID == "" || cam.TenantID == "" || cam.Source == "" {
			return nil, fmt.Errorf("camera %d: id, campus, tenant and source are required", i)
		}
		if cam.Role != RoleEntry && cam.Role != RoleExit {
			return nil, fmt.Errorf("camera %s: role must be %q or %q, got %q", cam.ID, RoleEntry, RoleExit, cam.Role)
		}
		if seen[cam.ID] {
			return nil, fmt.Errorf("camera %s: duplicate id", cam.ID)
		}
		seen[cam.ID] = true
		if cam.Name == "" {
			cam.Name = cam.ID
		}
	}
	return file.Cameras, nil
}
