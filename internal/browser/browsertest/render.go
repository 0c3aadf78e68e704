package browsertest

import (
	"fmt"
	"strconv"
	"strings"
)

// render rebuilds the document for the current URL from the shop state.
func (p *Page) render() {
	path := p.path()
	switch {
	case path == "/login":
		p.doc = p.loginPage()
	case strings.HasPrefix(path, "/auth/"):
		p.doc = document(nil, nil)
	case path == "/" || path == "/basket":
		sess, ok := p.shop.session(p.Token())
		if !ok {
			p.url = p.shop.Root + "/login"
			p.doc = p.loginPage()
			return
		}
		if path == "/" {
			p.doc = p.mainPage(sess)
		} else {
			p.doc = p.basketPage(sess)
		}
	default:
		p.doc = document(nil, text("h1", "", "404 Not Found"))
	}
}

func document(head []*Node, body ...*Node) *Node {
	h := el("head", nil, el("meta", map[string]string{"charset": "utf-8"}))
	for _, n := range head {
		h.Append(n)
	}
	return el("#document", nil, el("html", nil, h, el("body", nil, body...)))
}

func (p *Page) loginPage() *Node {
	username := el("input", map[string]string{"id": "loginform-username", "type": "text", "name": "LoginForm[username]"})
	password := el("input", map[string]string{"id": "loginform-password", "type": "password", "name": "LoginForm[password]"})

	submit := button("Вход", func() error {
		token, ok := p.shop.login(username.Value, password.Value)
		if !ok {
			p.loginErr = true
			p.render()
			return nil
		}
		p.loginErr = false
		p.cookies[sessionCookie] = token

		hops := make([]string, 0, p.shop.LoginRedirects+1)
		for i := 1; i <= p.shop.LoginRedirects; i++ {
			hops = append(hops, fmt.Sprintf("%s/auth/hop/%d", p.shop.Root, i))
		}
		hops = append(hops, p.shop.Root+"/")
		p.url, p.hops = hops[0], hops[1:]
		p.render()
		return nil
	})
	submit.Attrs["type"] = "submit"

	form := el("form", map[string]string{"id": "login-form"}, username, password, submit)
	if p.loginErr {
		form.Append(text("div", "invalid-feedback", "Incorrect username or password."))
	}
	return document(nil, el("div", map[string]string{"class": "container"}, form))
}

func (p *Page) mainPage(sess shopSession) *Node {
	var head []*Node
	if !p.shop.OmitCSRF {
		head = append(head, el("meta", map[string]string{"name": "csrf-param", "content": "_csrf"}))
		head = append(head, el("meta", map[string]string{"name": "csrf-token", "content": sess.csrf}))
	}
	head = append(head, el("meta", map[string]string{"name": "viewport", "content": "width=device-width"}))

	catalog := el("div", map[string]string{"class": "note-list row"})
	for _, prod := range p.shop.products {
		catalog.Append(el("div", map[string]string{"class": "col-3"}, p.catalogItem(prod)))
	}

	wrapper := el("div", map[string]string{"class": "wrap"},
		el("div", map[string]string{"class": "container"},
			el("div", nil, catalog)))

	return document(head, p.navbar(sess), wrapper)
}

func (p *Page) navbar(sess shopSession) *Node {
	units, total := 0, 0
	var rows []*Node
	for _, l := range sess.lines {
		prod, ok := p.shop.product(l.productID)
		if !ok {
			continue
		}
		units += l.count
		total += prod.Price * l.count
		rows = append(rows, el("li", map[string]string{"class": "basket-item"},
			text("span", "basket-item-title", prod.Name),
			text("span", "basket-item-price", fmt.Sprintf("- %d р.", prod.Price*l.count+p.shop.PanelPriceSkew)),
			text("span", "basket-item-count", strconv.Itoa(l.count)),
		))
	}
	if p.shop.ReversePanel {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	toggle := button("Корзина", func() error {
		p.panelOpen = !p.panelOpen
		p.render()
		return nil
	})
	toggle.Attrs["id"] = "dropdownBasket"

	clearButton := button("Очистить корзину", func() error {
		p.shop.clear(p.Token())
		p.panelOpen = false
		p.render()
		return nil
	})
	goToCart := button("Перейти в корзину", func() error {
		p.url = p.shop.Root + "/basket"
		p.panelOpen = false
		p.render()
		return nil
	})

	panel := el("div", map[string]string{"class": "dropdown-menu dropdown-menu-right"},
		el("ul", nil, rows...),
		el("div", map[string]string{"class": "basket-total"},
			text("span", "", "Итого:"),
			text("span", "basket_price", strconv.Itoa(total))),
		el("div", map[string]string{"class": "basket-actions"}, goToCart, clearButton),
	)
	panel.Hidden = !p.panelOpen

	basket := el("div", map[string]string{"id": "basketContainer", "class": "dropdown"},
		text("span", "basket-count-items badge", strconv.Itoa(units+p.shop.BadgeSkew)),
		toggle,
		panel,
	)

	user := text("a", "nav-link dropdown-toggle", sess.user)
	user.Attrs["id"] = "dropdownUser"

	return el("nav", map[string]string{"id": "navbarNav", "class": "navbar"}, basket, user)
}

func (p *Page) catalogItem(prod Product) *Node {
	class := "note-item card"
	if prod.Discount {
		class += " hasDiscount"
	}

	id := prod.ID
	buy := button("Купить", func() error {
		p.shop.buy(p.Token(), id)
		p.render()
		return nil
	})
	buy.Hidden = p.shop.HiddenBuy[prod.ID]

	return el("div", map[string]string{"class": class, "data-product": prod.ID},
		text("div", "product_name h6", prod.Name),
		text("span", "product_price", fmt.Sprintf("%d р.", prod.Price)),
		el("div", nil,
			text("span", "", "Остаток:"),
			text("span", "product_count", strconv.Itoa(prod.Stock))),
		buy,
	)
}

func (p *Page) basketPage(sess shopSession) *Node {
	body := []*Node{text("h1", "", "Корзина")}
	if p.shop.ServerError {
		body = append(body, text("div", "alert alert-danger", "Server Error"))
	}
	list := el("ul", map[string]string{"class": "basket-list"})
	for _, l := range sess.lines {
		if prod, ok := p.shop.product(l.productID); ok {
			list.Append(text("li", "", fmt.Sprintf("%s x %d", prod.Name, l.count)))
		}
	}
	body = append(body, list)
	return document(nil, el("div", map[string]string{"class": "container"}, body...))
}
