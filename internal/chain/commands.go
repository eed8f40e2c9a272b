package chain

import (
	"fmt"

	"github.com/kuitang/dashboard-e2e/internal/locator"
)

// Stages of ClickListItemDropdown, as they appear in errors and logs.
const (
	StageOpenMenu   = "open menu"
	StageMenuSettle = "await menu animation"
	StageChoose     = "select choice"
	StageMenuClose  = "await menu close"
)

// Dashboard list markup the dropdown command relies on.
const (
	menuTriggerXPath = `//div[text()=%s]/../../../following-sibling::div//span[@class="synicon-dots-vertical"]`
	menuChoiceXPath  = `//div[contains(text(), %s)]`
	menuOpeningXPath = `//span[@class="synicon-dots-vertical"]/preceding-sibling::span/div`
	menuOverlayXPath = `//iframe/following-sibling::div//span[@type="button"]`
)

// ListItemMenuTrigger locates the context-menu button of the list row whose
// label is exactly item.
func ListItemMenuTrigger(item string) locator.Locator {
	return locator.ByXPath(fmt.Sprintf(menuTriggerXPath, locator.Literal(item)))
}

// MenuChoice locates menu entries whose text contains choice.
func MenuChoice(choice string) locator.Locator {
	return locator.ByXPath(fmt.Sprintf(menuChoiceXPath, locator.Literal(choice)))
}

// ClickListItemDropdown opens the context menu of the row labelled exactly
// listItem and clicks the first entry whose text contains dropdownChoice.
//
// The menu trigger must become visible, the opening-animation marker must
// disappear before the choice is clicked, and the menu overlay must be gone
// before the command returns. A stage that times out fails the command with
// a WaitError naming that stage; nothing is retried.
func (c *Chain) ClickListItemDropdown(listItem, dropdownChoice string) *Chain {
	const command = "clickListItemDropdown"
	if !c.ready(command) {
		return c
	}

	trigger := ListItemMenuTrigger(listItem)
	if err := c.wait(c.ctx, command, StageOpenMenu, trigger, c.timeout, conditionVisible); err != nil {
		return c.fail(err)
	}
	c.act(command, StageOpenMenu, trigger, c.clickFn(trigger))
	if c.err != nil {
		return c
	}

	if err := c.wait(c.ctx, command, StageMenuSettle, locator.ByXPath(menuOpeningXPath), c.timeout, conditionAbsent); err != nil {
		return c.fail(err)
	}

	choice := MenuChoice(dropdownChoice)
	c.act(command, StageChoose, choice, c.clickFn(choice))
	if c.err != nil {
		return c
	}

	if err := c.wait(c.ctx, command, StageMenuClose, locator.ByXPath(menuOverlayXPath), c.timeout, conditionAbsent); err != nil {
		return c.fail(err)
	}
	return c
}

// Login fills the bound page's @emailInput and @passwordInput and clicks
// @loginButton.
func (c *Chain) Login(email, password string) *Chain {
	return c.
		FillInput("@emailInput", email).
		FillInput("@passwordInput", password).
		ClickElement("@loginButton")
}
