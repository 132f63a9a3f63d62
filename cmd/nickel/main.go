// nickel es el CLI del key manager. Habla con el daemon nickeld por su
// API HTTP local.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, strings.TrimRight(c.BaseURL, "/")+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) error {
	if status/100 != 2 {
		return fmt.Errorf("status=%d body=%s", status, string(body))
	}
	var v any
	if json.Unmarshal(body, &v) == nil {
		p, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(p))
		return nil
	}
	fmt.Println(string(body))
	return nil
}

// readData toma el payload de un archivo (--in) o de stdin.
func readData(in string) (string, error) {
	if in == "" || in == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(in)
	return string(b), err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		baseURL = envOr("NICKEL_URL", "http://localhost:8787")
		out     = envOr("NICKEL_OUT", "json")
	)

	root := &cobra.Command{
		Use:   "nickel",
		Short: "CLI del key manager (vía nickeld)",
	}
	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "URL base de nickeld (env NICKEL_URL)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	cl := &client{BaseURL: baseURL, OutFormat: out, HTTP: &http.Client{Timeout: 60 * time.Second}}
	cobra.OnInitialize(func() {
		cl.BaseURL = baseURL
		cl.OutFormat = out
	})

	// ─── keys ───
	keysCmd := &cobra.Command{Use: "keys", Short: "Gestión de llaves"}

	var listPrivate bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Listar llaves locales",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/keys?private="+fmt.Sprint(listPrivate), nil)
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}
	listCmd.Flags().BoolVar(&listPrivate, "private", false, "listar llaves privadas")

	var getPrivate, getFetch bool
	getCmd := &cobra.Command{
		Use:   "get <address>",
		Short: "Buscar la llave de una dirección",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("private", fmt.Sprint(getPrivate))
			q.Set("fetch_remote", fmt.Sprint(getFetch))
			status, body, err := cl.do("GET", "/v1/keys/"+url.PathEscape(args[0])+"?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}
	getCmd.Flags().BoolVar(&getPrivate, "private", false, "llave privada")
	getCmd.Flags().BoolVar(&getFetch, "fetch-remote", false, "consultar el nickserver si no está local")

	var importFile, importValidation string
	importCmd := &cobra.Command{
		Use:   "import <address>",
		Short: "Importar una llave armada",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			material, err := readData(importFile)
			if err != nil {
				return err
			}
			status, body, err := cl.do("POST", "/v1/keys", map[string]string{
				"address":    args[0],
				"material":   material,
				"validation": importValidation,
			})
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}
	importCmd.Flags().StringVar(&importFile, "in", "-", "archivo con la llave armada (default stdin)")
	importCmd.Flags().StringVar(&importValidation, "validation", "", "nivel de validación (default Weak_Chain)")

	var exportPrivate bool
	exportCmd := &cobra.Command{
		Use:   "export <address>",
		Short: "Exportar el material armado de una llave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("private", fmt.Sprint(exportPrivate))
			status, body, err := cl.do("GET", "/v1/keys/"+url.PathEscape(args[0])+"?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("status=%d body=%s", status, string(body))
			}
			var k struct {
				Material string `json:"material"`
			}
			if err := json.Unmarshal(body, &k); err != nil {
				return err
			}
			fmt.Print(k.Material)
			if !strings.HasSuffix(k.Material, "\n") {
				fmt.Println()
			}
			return nil
		},
	}
	exportCmd.Flags().BoolVar(&exportPrivate, "private", false, "exportar la mitad privada")

	var delPrivate bool
	deleteCmd := &cobra.Command{
		Use:   "delete <address>",
		Short: "Borrar la llave de una dirección",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("DELETE", "/v1/keys/"+url.PathEscape(args[0])+"?private="+fmt.Sprint(delPrivate), nil)
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}
	deleteCmd.Flags().BoolVar(&delPrivate, "private", false, "borrar la llave privada")

	genCmd := &cobra.Command{
		Use:   "gen",
		Short: "Generar el par de llaves del usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("POST", "/v1/keys/generate", map[string]string{})
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Registrar la llave pública en el proveedor",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("POST", "/v1/keys/send", map[string]string{})
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}

	var fetchURI, fetchValidation string
	fetchCmd := &cobra.Command{
		Use:   "fetch <address>",
		Short: "Traer una llave desde una URI arbitraria",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fetchURI == "" {
				return fmt.Errorf("falta --uri")
			}
			status, body, err := cl.do("POST", "/v1/keys/fetch", map[string]string{
				"address":    args[0],
				"uri":        fetchURI,
				"validation": fetchValidation,
			})
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}
	fetchCmd.Flags().StringVar(&fetchURI, "uri", "", "URI de donde bajar la llave")
	fetchCmd.Flags().StringVar(&fetchValidation, "validation", "", "nivel de validación (default Weak_Chain)")

	keysCmd.AddCommand(listCmd, getCmd, exportCmd, importCmd, deleteCmd, genCmd, sendCmd, fetchCmd)

	// ─── crypto ───
	var encIn, encSign string
	var encFetch bool
	encryptCmd := &cobra.Command{
		Use:   "encrypt <address>",
		Short: "Cifrar para una dirección",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(encIn)
			if err != nil {
				return err
			}
			status, body, err := cl.do("POST", "/v1/encrypt", map[string]any{
				"data":         data,
				"address":      args[0],
				"sign":         encSign,
				"fetch_remote": encFetch,
			})
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}
	encryptCmd.Flags().StringVar(&encIn, "in", "-", "archivo con el texto plano (default stdin)")
	encryptCmd.Flags().StringVar(&encSign, "sign", "", "dirección firmante (opcional)")
	encryptCmd.Flags().BoolVar(&encFetch, "fetch-remote", true, "permitir resolver la llave por red")

	var decIn, decVerify string
	var decFetch bool
	decryptCmd := &cobra.Command{
		Use:   "decrypt <address>",
		Short: "Descifrar con la llave privada de una dirección",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(decIn)
			if err != nil {
				return err
			}
			status, body, err := cl.do("POST", "/v1/decrypt", map[string]any{
				"data":         data,
				"address":      args[0],
				"verify":       decVerify,
				"fetch_remote": decFetch,
			})
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}
	decryptCmd.Flags().StringVar(&decIn, "in", "-", "archivo con el cifrado (default stdin)")
	decryptCmd.Flags().StringVar(&decVerify, "verify", "", "dirección contra la que verificar la firma")
	decryptCmd.Flags().BoolVar(&decFetch, "fetch-remote", true, "permitir resolver la llave de verificación por red")

	var signIn string
	var signDetached, signClear bool
	signCmd := &cobra.Command{
		Use:   "sign <address>",
		Short: "Firmar con la llave privada de una dirección",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(signIn)
			if err != nil {
				return err
			}
			status, body, err := cl.do("POST", "/v1/sign", map[string]any{
				"data":      data,
				"address":   args[0],
				"detached":  signDetached,
				"clearsign": signClear,
			})
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}
	signCmd.Flags().StringVar(&signIn, "in", "-", "archivo a firmar (default stdin)")
	signCmd.Flags().BoolVar(&signDetached, "detached", false, "firma separada")
	signCmd.Flags().BoolVar(&signClear, "clearsign", true, "mensaje clearsigned")

	var verifyIn, verifySig string
	var verifyFetch bool
	verifyCmd := &cobra.Command{
		Use:   "verify <address>",
		Short: "Verificar una firma contra la llave de una dirección",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(verifyIn)
			if err != nil {
				return err
			}
			var sig string
			if verifySig != "" {
				b, err := os.ReadFile(verifySig)
				if err != nil {
					return err
				}
				sig = string(b)
			}
			status, body, err := cl.do("POST", "/v1/verify", map[string]any{
				"data":         data,
				"address":      args[0],
				"signature":    sig,
				"fetch_remote": verifyFetch,
			})
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}
	verifyCmd.Flags().StringVar(&verifyIn, "in", "-", "archivo firmado (default stdin)")
	verifyCmd.Flags().StringVar(&verifySig, "sig", "", "archivo con la firma separada")
	verifyCmd.Flags().BoolVar(&verifyFetch, "fetch-remote", true, "permitir resolver la llave por red")

	tokenCmd := &cobra.Command{
		Use:   "token <token>",
		Short: "Rotar el token de sesión del daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("PUT", "/v1/token", map[string]string{"token": args[0]})
			if err != nil {
				return err
			}
			return cl.print(status, body)
		},
	}

	root.AddCommand(keysCmd, encryptCmd, decryptCmd, signCmd, verifyCmd, tokenCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
