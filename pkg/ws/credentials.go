package ws

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// CredentialPaths - пути к трём файлам Credential Bundle.
// Относительные пути разрешаются от BaseDir, а если он пуст - от рабочей
// директории на момент вызова Resolve.
type CredentialPaths struct {
	BaseDir  string
	CertFile string // клиентский сертификат (PEM)
	KeyFile  string // приватный ключ клиента (PEM)
	CAFile   string // CA сертификат, файл или директория с PEM файлами
}

// Resolve возвращает копию с абсолютными путями.
func (p CredentialPaths) Resolve() (CredentialPaths, error) {
	base := p.BaseDir
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return p, fmt.Errorf("resolve working directory: %w", err)
		}

		base = wd
	}

	base, err := filepath.Abs(base)
	if err != nil {
		return p, fmt.Errorf("resolve base dir: %w", err)
	}

	resolve := func(path string) string {
		if path == "" {
			return ""
		}

		if filepath.IsAbs(path) {
			return filepath.Clean(path)
		}

		return filepath.Join(base, path)
	}

	return CredentialPaths{
		BaseDir:  base,
		CertFile: resolve(p.CertFile),
		KeyFile:  resolve(p.KeyFile),
		CAFile:   resolve(p.CAFile),
	}, nil
}

// Bundle - загруженные в память сертификаты и ключ. После загрузки не меняется.
type Bundle struct {
	CertificatePEM []byte
	PrivateKeyPEM  []byte
	CAPEM          []byte
}

// LoadBundle синхронно читает все три файла.
// Любой отсутствующий или нечитаемый файл - ошибка KindCredentialLoad,
// частичный bundle не возвращается.
func LoadBundle(paths CredentialPaths) (*Bundle, error) {
	resolved, err := paths.Resolve()
	if err != nil {
		return nil, credentialError("resolve", paths.BaseDir, err)
	}

	files := []struct {
		name string
		path string
	}{
		{"certificate", resolved.CertFile},
		{"private key", resolved.KeyFile},
		{"ca certificate", resolved.CAFile},
	}

	for _, f := range files {
		if f.path == "" {
			return nil, credentialError("read "+f.name, "", fmt.Errorf("path is empty"))
		}
	}

	certPEM, err := readPEMFile(resolved.CertFile)
	if err != nil {
		return nil, credentialError("read certificate", resolved.CertFile, err)
	}

	keyPEM, err := readPEMFile(resolved.KeyFile)
	if err != nil {
		return nil, credentialError("read private key", resolved.KeyFile, err)
	}

	caPEM, err := readCA(resolved.CAFile)
	if err != nil {
		return nil, credentialError("read ca certificate", resolved.CAFile, err)
	}

	return &Bundle{
		CertificatePEM: certPEM,
		PrivateKeyPEM:  keyPEM,
		CAPEM:          caPEM,
	}, nil
}

func readPEMFile(path string) ([]byte, error) {
	// #nosec G304 -- путь задаётся оператором при запуске
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	return data, nil
}

// readCA читает CA из файла или склеивает все обычные файлы директории
// (в лексикографическом порядке, без рекурсии в поддиректории).
func readCA(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return readPEMFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var buf bytes.Buffer

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		data, err := readPEMFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, err
		}

		buf.Write(data)
		if !bytes.HasSuffix(data, []byte("\n")) {
			buf.WriteByte('\n')
		}
	}

	if buf.Len() == 0 {
		return nil, fmt.Errorf("no certificate files in directory")
	}

	return buf.Bytes(), nil
}

// BundleFromEnv загружает bundle из переменных окружения
// <prefix>_TLS_CERT - сертификат в base64
// <prefix>_TLS_KEY - приватный ключ в base64
// <prefix>_TLS_CA - CA сертификат в base64
func BundleFromEnv(prefix string) (*Bundle, error) {
	vars := []string{prefix + "_TLS_CERT", prefix + "_TLS_KEY", prefix + "_TLS_CA"}
	decoded := make([][]byte, len(vars))

	for i, name := range vars {
		value := os.Getenv(name)
		if value == "" {
			return nil, credentialError("read env", name, fmt.Errorf("variable is not set"))
		}

		data, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, credentialError("decode env", name, err)
		}

		decoded[i] = data
	}

	return &Bundle{
		CertificatePEM: decoded[0],
		PrivateKeyPEM:  decoded[1],
		CAPEM:          decoded[2],
	}, nil
}
