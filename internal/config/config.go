package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Site SiteConfig `yaml:"site"`

	Browser BrowserConfig `yaml:"browser"`

	// Locale picks the storefront wording pack (button labels, currency format).
	Locale string `yaml:"locale"`

	SessionDir string `yaml:"session_dir"`

	Workers int `yaml:"workers"`

	// PanelOrder is "insertion" when cart panel rows follow first-purchase
	// order, or "any" to compare rows as a multiset.
	PanelOrder string `yaml:"panel_order"`

	Selectors SelectorConfig `yaml:"selectors"`

	Logger LoggerConfig `yaml:"logger"`

	// Credentials never live in the YAML file; see ApplyEnv.
	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

type SiteConfig struct {
	RootURL         string `yaml:"root_url"`
	LoginPath       string `yaml:"login_path"`
	LandingPath     string `yaml:"landing_path"`
	BasketPath      string `yaml:"basket_path"`
	BasketClearPath string `yaml:"basket_clear_path"`
}

type BrowserConfig struct {
	// Engine is "rod" or "playwright".
	Engine  string `yaml:"engine"`
	Bin     string `yaml:"bin"`
	Remote  string `yaml:"remote"`
	Stealth bool   `yaml:"stealth"`

	Headless bool `yaml:"headless"`

	PageLoadTimeout int `yaml:"page_load_timeout"`
	ActionTimeout   int `yaml:"action_timeout"`
	AssertTimeout   int `yaml:"assert_timeout"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
}

type SelectorConfig struct {
	UserMenu   string `yaml:"user_menu"`
	CartBadge  string `yaml:"cart_badge"`
	CartToggle string `yaml:"cart_toggle"`

	CatalogContainer string `yaml:"catalog_container"`
	CatalogItem      string `yaml:"catalog_item"`
	ProductName      string `yaml:"product_name"`
	ProductPrice     string `yaml:"product_price"`
	ProductStock     string `yaml:"product_stock"`
	ProductIDAttr    string `yaml:"product_id_attr"`
	DiscountClass    string `yaml:"discount_class"`

	CartPanel  string `yaml:"cart_panel"`
	PanelRow   string `yaml:"panel_row"`
	RowName    string `yaml:"row_name"`
	RowPrice   string `yaml:"row_price"`
	RowCount   string `yaml:"row_count"`
	PanelTotal string `yaml:"panel_total"`

	HeadMeta      string `yaml:"head_meta"`
	LoginUsername string `yaml:"login_username"`
	LoginPassword string `yaml:"login_password"`
}

type LoggerConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	ServiceName string `yaml:"service_name"`
	AddSource   bool   `yaml:"add_source"`
	LogFile     string `yaml:"log_file"`
	MaxSize     int    `yaml:"max_size"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAge      int    `yaml:"max_age"`
	Compress    bool   `yaml:"compress"`
}

// URLs are the absolute endpoints derived from SiteConfig.
type URLs struct {
	Root        string
	Login       string
	Landing     string
	Basket      string
	BasketClear string
}

const (
	PanelOrderInsertion = "insertion"
	PanelOrderAny       = "any"

	EngineRod        = "rod"
	EnginePlaywright = "playwright"
)

func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			RootURL:         "https://enotes.pointschool.ru",
			LoginPath:       "/login",
			LandingPath:     "/",
			BasketPath:      "/basket",
			BasketClearPath: "/basket/clear",
		},
		Browser: BrowserConfig{
			Engine:          EngineRod,
			Stealth:         false,
			Headless:        true,
			PageLoadTimeout: 30,
			ActionTimeout:   10,
			AssertTimeout:   5,
			ViewportWidth:   1920,
			ViewportHeight:  1080,
		},
		Locale:     "ru_RU",
		SessionDir: filepath.Join(".cartcheck", ".auth"),
		Workers:    1,
		PanelOrder: PanelOrderInsertion,
		Selectors: SelectorConfig{
			UserMenu:   "#dropdownUser",
			CartBadge:  "#basketContainer > span.basket-count-items",
			CartToggle: "#dropdownBasket",

			CatalogContainer: "body > div > div.container > div > div.note-list.row > div",
			CatalogItem:      "div.note-item",
			ProductName:      "div.product_name",
			ProductPrice:     "span.product_price",
			ProductStock:     ".product_count",
			ProductIDAttr:    "data-product",
			DiscountClass:    "hasDiscount",

			CartPanel:  "#basketContainer > div.dropdown-menu.dropdown-menu-right",
			PanelRow:   "li.basket-item",
			RowName:    "span.basket-item-title",
			RowPrice:   "span.basket-item-price",
			RowCount:   "span.basket-item-count",
			PanelTotal: "span.basket_price",

			HeadMeta:      "head > meta",
			LoginUsername: "#loginform-username",
			LoginPassword: "#loginform-password",
		},
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "cartcheck",
			MaxSize:     10,
			MaxBackups:  3,
			MaxAge:      7,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0644)
}

// ApplyEnv fills the credentials from CARTCHECK_USERNAME and
// CARTCHECK_PASSWORD and lets CARTCHECK_ROOT_URL override the site.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("CARTCHECK_USERNAME"); v != "" {
		c.Username = v
	}
	if v := getenv("CARTCHECK_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := getenv("CARTCHECK_ROOT_URL"); v != "" {
		c.Site.RootURL = v
	}
}

func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Site.RootURL); err != nil {
		return fmt.Errorf("site.root_url %q is not a valid URL: %w", c.Site.RootURL, err)
	}
	switch c.Browser.Engine {
	case EngineRod, EnginePlaywright:
	default:
		return fmt.Errorf("browser.engine must be %q or %q, got %q", EngineRod, EnginePlaywright, c.Browser.Engine)
	}
	switch c.PanelOrder {
	case PanelOrderInsertion, PanelOrderAny:
	default:
		return fmt.Errorf("panel_order must be %q or %q, got %q", PanelOrderInsertion, PanelOrderAny, c.PanelOrder)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.SessionDir == "" {
		return fmt.Errorf("session_dir is required")
	}
	return nil
}

func (c *Config) URLs() URLs {
	root := strings.TrimRight(c.Site.RootURL, "/")
	return URLs{
		Root:        root,
		Login:       root + c.Site.LoginPath,
		Landing:     root + c.Site.LandingPath,
		Basket:      root + c.Site.BasketPath,
		BasketClear: root + c.Site.BasketClearPath,
	}
}

func (b BrowserConfig) PageLoad() time.Duration {
	return time.Duration(b.PageLoadTimeout) * time.Second
}

func (b BrowserConfig) Action() time.Duration {
	return time.Duration(b.ActionTimeout) * time.Second
}

func (b BrowserConfig) Assert() time.Duration {
	return time.Duration(b.AssertTimeout) * time.Second
}
