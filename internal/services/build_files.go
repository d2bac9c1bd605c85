package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"gopkg.in/yaml.v3"
)

// Build file names inside an application's working directory
const (
	DockerfileName  = "Dockerfile"
	ComposeFileName = "docker-compose.yml"
	EnvFileName     = ".env"
)

// Template placeholders substituted when build files are written
const (
	PlaceholderAppName       = "{{APP_NAME}}"
	PlaceholderInternalPort  = "{{INTERNAL_PORT}}"
	PlaceholderExternalPort  = "{{EXTERNAL_PORT}}"
	PlaceholderContainerName = "{{CONTAINER_NAME}}"
)

// ErrMissingBuildFile is returned when a required build file is absent from the working directory
var ErrMissingBuildFile = errors.New("missing build file")

// AppTemplate is the default build setup for one application type
type AppTemplate struct {
	Type                models.AppType `json:"type"`
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	DefaultInternalPort int            `json:"default_internal_port"`
	Dockerfile          string         `json:"dockerfile"`
	ComposeFile         string         `json:"compose_file"`
}

type composeDocument struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Build         composeBuild      `yaml:"build"`
	Image         string            `yaml:"image,omitempty"`
	ContainerName string            `yaml:"container_name"`
	Ports         []string          `yaml:"ports"`
	EnvFile       []string          `yaml:"env_file,omitempty"`
	Restart       string            `yaml:"restart,omitempty"`
	Labels        map[string]string `yaml:"labels,omitempty"`
}

type composeBuild struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile"`
}

var defaultComposeTemplate = mustRenderCompose(composeDocument{
	Services: map[string]composeService{
		"app": {
			Build:         composeBuild{Context: ".", Dockerfile: DockerfileName},
			Image:         PlaceholderContainerName + ":latest",
			ContainerName: PlaceholderContainerName,
			Ports:         []string{PlaceholderExternalPort + ":" + PlaceholderInternalPort},
			EnvFile:       []string{EnvFileName},
			Restart:       "unless-stopped",
			Labels:        map[string]string{"launchpad.app": PlaceholderAppName},
		},
	},
})

func mustRenderCompose(doc composeDocument) string {
	out, err := yaml.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return string(out)
}

var appTemplates = []AppTemplate{
	{
		Type:                models.AppTypeNode,
		Name:                "Node.js",
		Description:         "Node.js application started with npm start",
		DefaultInternalPort: 3000,
		Dockerfile: `FROM node:20-alpine
WORKDIR /app
COPY package*.json ./
RUN npm install --omit=dev
COPY . .
ENV PORT={{INTERNAL_PORT}}
EXPOSE {{INTERNAL_PORT}}
CMD ["npm", "start"]
`,
	},
	{
		Type:                models.AppTypePython,
		Name:                "Python",
		Description:         "Python application with requirements.txt, started from app.py",
		DefaultInternalPort: 8000,
		Dockerfile: `FROM python:3.12-slim
WORKDIR /app
COPY requirements.txt ./
RUN pip install --no-cache-dir -r requirements.txt
COPY . .
ENV PORT={{INTERNAL_PORT}}
EXPOSE {{INTERNAL_PORT}}
CMD ["python", "app.py"]
`,
	},
	{
		Type:                models.AppTypeGo,
		Name:                "Go",
		Description:         "Go module built into a static binary",
		DefaultInternalPort: 8080,
		Dockerfile: `FROM golang:1.24-alpine AS build
WORKDIR /src
COPY . .
RUN go mod download && CGO_ENABLED=0 go build -o /out/app .

FROM alpine:3.20
COPY --from=build /out/app /usr/local/bin/app
ENV PORT={{INTERNAL_PORT}}
EXPOSE {{INTERNAL_PORT}}
CMD ["app"]
`,
	},
	{
		Type:                models.AppTypeStatic,
		Name:                "Static site",
		Description:         "Static files served by nginx",
		DefaultInternalPort: 80,
		Dockerfile: `FROM nginx:alpine
COPY . /usr/share/nginx/html
EXPOSE 80
`,
	},
	{
		Type:                models.AppTypeCustom,
		Name:                "Custom",
		Description:         "Bring your own Dockerfile",
		DefaultInternalPort: 3000,
		Dockerfile: `FROM alpine:3.20
WORKDIR /app
COPY . .
EXPOSE {{INTERNAL_PORT}}
CMD ["sh", "-c", "echo 'Replace this Dockerfile for {{APP_NAME}}' && sleep infinity"]
`,
	},
}

func init() {
	for i := range appTemplates {
		appTemplates[i].ComposeFile = defaultComposeTemplate
	}
}

// ListTemplates returns the built-in application templates
func ListTemplates() []AppTemplate {
	out := make([]AppTemplate, len(appTemplates))
	copy(out, appTemplates)
	return out
}

// GetTemplate returns the template for an application type
func GetTemplate(t models.AppType) (AppTemplate, bool) {
	for _, tpl := range appTemplates {
		if tpl.Type == t {
			return tpl, true
		}
	}
	return AppTemplate{}, false
}

// RenderTemplate substitutes the application's name, ports and container name into text
func RenderTemplate(text string, app *models.Application) string {
	containerName := app.ContainerName
	if containerName == "" {
		containerName = app.DefaultContainerName()
	}
	r := strings.NewReplacer(
		PlaceholderAppName, app.Name,
		PlaceholderInternalPort, strconv.Itoa(app.InternalPort),
		PlaceholderExternalPort, strconv.Itoa(app.ExternalPort),
		PlaceholderContainerName, containerName,
	)
	return r.Replace(text)
}

// RenderEnvFile renders env as KEY=value lines in list order
func RenderEnvFile(env []models.EnvVar) string {
	var b strings.Builder
	for _, v := range env {
		b.WriteString(v.Key)
		b.WriteByte('=')
		b.WriteString(quoteEnvValue(v.Value))
		b.WriteByte('\n')
	}
	return b.String()
}

func quoteEnvValue(v string) string {
	if v == "" || !strings.ContainsAny(v, " \t\n\r#\"'$\\`") {
		return v
	}
	// Single quotes are literal for both compose and dotenv parsers
	if !strings.ContainsAny(v, "'\n\r") {
		return "'" + v + "'"
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(v) + `"`
}

// ValidateCompose parses a rendered compose document and checks it declares at least one service
func ValidateCompose(content string) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("failed to parse compose file: %w", err)
	}
	services, ok := doc["services"].(map[string]interface{})
	if !ok || len(services) == 0 {
		return errors.New("compose file declares no services")
	}
	return nil
}

// WriteBuildFiles materializes the application's Dockerfile, compose file and .env into dir
func WriteBuildFiles(app *models.Application, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	dockerfile := app.Dockerfile
	compose := app.ComposeFile
	if tpl, ok := GetTemplate(app.Type); ok {
		if strings.TrimSpace(dockerfile) == "" {
			dockerfile = tpl.Dockerfile
		}
		if strings.TrimSpace(compose) == "" {
			compose = tpl.ComposeFile
		}
	}

	files := []struct {
		name    string
		content string
		mode    os.FileMode
	}{
		{DockerfileName, RenderTemplate(dockerfile, app), 0644},
		{ComposeFileName, RenderTemplate(compose, app), 0644},
		// May hold secrets
		{EnvFileName, RenderEnvFile(app.Env), 0600},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.content), f.mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return nil
}

// VerifyBuildFiles checks the compose file and Dockerfile exist in dir and the compose file parses
func VerifyBuildFiles(dir string) error {
	for _, name := range []string{ComposeFileName, DockerfileName} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return fmt.Errorf("%w: %s not found in %s", ErrMissingBuildFile, name, dir)
		}
	}
	content, err := os.ReadFile(filepath.Join(dir, ComposeFileName))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", ComposeFileName, err)
	}
	return ValidateCompose(string(content))
}

// IsBuildFile reports whether name is one of the generated build files
func IsBuildFile(name string) bool {
	return name == DockerfileName || name == ComposeFileName || name == EnvFileName
}

var buildFailures = []struct {
	patterns []string
	message  string
}{
	{[]string{"no space left on device"}, "Build failed: no space left on device"},
	{[]string{"permission denied"}, "Build failed: permission denied while building the image"},
	{[]string{"copy failed", "failed to compute cache key", "not found: not found", "no such file or directory"},
		"Build failed: a file referenced by COPY was not found in the source"},
}

// ClassifyBuildError maps build output and exit code to a user-facing cause
func ClassifyBuildError(output string, exitCode int) string {
	lower := strings.ToLower(output)
	for _, f := range buildFailures {
		for _, p := range f.patterns {
			if strings.Contains(lower, p) {
				return f.message
			}
		}
	}
	return fmt.Sprintf("Build failed (code %d)", exitCode)
}
